package handler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lsst-dm/cm-tools-sub000/internal/butler"
	"github.com/lsst-dm/cm-tools-sub000/internal/config"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// entryVars are the template values an entry exposes to its own naming and
// command templates.
func entryVars(e core.Entry) config.Vars {
	return config.Vars{
		"name":          e.Name,
		"fullname":      e.Fullname,
		"idx":           e.Idx,
		"root_coll":     e.RootColl,
		"butler_repo":   e.ButlerRepo,
		"prod_base_url": e.ProdBaseURL,
		"coll_source":   e.CollSource,
		"coll_in":       e.CollIn,
		"coll_out":      e.CollOut,
		"coll_validate": e.CollValidate,
		"data_query":    e.DataQuery,
	}
}

type artifactURLs struct {
	script, stamp, log, config string
}

// resolveURLs expands the artifact templates for the unit name/idx owned
// by e.
func resolveURLs(tmpl config.Templates, e core.Entry, name string, idx int) (artifactURLs, error) {
	vars := entryVars(e)
	vars["name"] = name
	vars["idx"] = idx
	var out artifactURLs
	for _, f := range []struct {
		dst  *string
		tmpl string
	}{
		{&out.script, tmpl.ScriptURL},
		{&out.stamp, tmpl.StampURL},
		{&out.log, tmpl.LogURL},
		{&out.config, tmpl.ConfigURL},
	} {
		v, err := config.Expand(f.tmpl, vars)
		if err != nil {
			return artifactURLs{}, err
		}
		*f.dst = v
	}
	return out, nil
}

// writeCommandScript writes an executable bash script running command.
// With a stamp URL the script records its outcome there.
func writeCommandScript(scriptURL, command, stampURL string) error {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n")
	if stampURL == "" {
		b.WriteString(command)
		b.WriteString("\n")
	} else {
		stamp := butler.ShellJoin([]string{localPath(stampURL)})
		fmt.Fprintf(&b, "if %s; then\n", command)
		fmt.Fprintf(&b, "  echo \"status: %s\" > %s\n", core.StatusCompleted, stamp)
		b.WriteString("else\n")
		fmt.Fprintf(&b, "  echo \"status: %s\" > %s\n", core.StatusFailed, stamp)
		b.WriteString("fi\n")
	}
	return writeArtifact(scriptURL, []byte(b.String()), 0o755)
}

// writeYAML writes v as a YAML document.
func writeYAML(url string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", url, err)
	}
	return writeArtifact(url, data, 0o644)
}

func writeArtifact(url string, data []byte, mode os.FileMode) error {
	path := localPath(url)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", url, err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", url, err)
	}
	return nil
}

func localPath(url string) string {
	return strings.TrimPrefix(url, "file://")
}
