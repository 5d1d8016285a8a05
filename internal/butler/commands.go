// Package butler builds the data-management commands run by scripts and
// removes output collections when work is rolled back.
package butler

import (
	"strings"
)

// Binaries invoked by generated scripts.
const (
	ButlerBin    = "butler"
	ValidatorBin = "validate"
)

// Associate returns the command that copies the datasets of source matching
// query into collIn. An empty query selects everything.
func Associate(repo, collIn, source, query string) []string {
	args := []string{ButlerBin, "associate", repo, collIn, "--collections", source}
	if query != "" {
		args = append(args, "--where", query)
	}
	return args
}

// CollectionChain returns the command that makes collOut a chained
// collection over inputs, in order.
func CollectionChain(repo, collOut string, inputs ...string) []string {
	args := []string{ButlerBin, "collection-chain", repo, collOut}
	return append(args, inputs...)
}

// RemoveCollection returns the command that removes coll from repo.
func RemoveCollection(repo, coll string) []string {
	return []string{ButlerBin, "remove-collection", repo, coll}
}

// Validate returns the command that validates collOut, writing its report
// to collValidate.
func Validate(repo, collValidate, collOut string) []string {
	return []string{ValidatorBin, repo, "--output", collValidate, collOut}
}

// ShellJoin quotes args for a POSIX shell script line.
func ShellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
