package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Vars are the values a naming template may reference.
type Vars map[string]any

// Expand substitutes {key} and {key:0N} references in tmpl.
// {key:0N} zero-pads an integer value to N digits. A reference to a key not
// in vars is an error.
func Expand(tmpl string, vars Vars) (string, error) {
	var b strings.Builder
	rest := tmpl
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("template %q: unclosed {", tmpl)
		}
		b.WriteString(rest[:open])
		ref := rest[open+1 : open+end]
		rest = rest[open+end+1:]

		key, format, _ := strings.Cut(ref, ":")
		v, ok := vars[key]
		if !ok {
			return "", fmt.Errorf("template %q: unknown key %q", tmpl, key)
		}
		s, err := formatVar(v, format)
		if err != nil {
			return "", fmt.Errorf("template %q: key %q: %w", tmpl, key, err)
		}
		b.WriteString(s)
	}
}

func formatVar(v any, format string) (string, error) {
	if format == "" {
		return fmt.Sprint(v), nil
	}
	width, err := strconv.Atoi(strings.TrimPrefix(format, "0"))
	if err != nil || !strings.HasPrefix(format, "0") {
		return "", fmt.Errorf("unsupported format %q", format)
	}
	switch n := v.(type) {
	case int:
		return fmt.Sprintf("%0*d", width, n), nil
	case int64:
		return fmt.Sprintf("%0*d", width, n), nil
	}
	return "", fmt.Errorf("format %q needs an integer, got %T", format, v)
}
