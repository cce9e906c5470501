package runner

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"

	ncerr "rexd/internal/errors"
)

// Tokenize splits a command line on ASCII spaces.  Runs of spaces
// produce no empty tokens.  There is no quoting, escaping or shell
// expansion: tabs and quotes are ordinary bytes.
func Tokenize(line string) []string {
	var out []string
	for _, tok := range strings.Split(line, " ") {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Resolver finds executables along a colon-separated search path.
type Resolver struct {
	// SearchPath overrides $PATH.  Empty means read $PATH on every
	// Resolve call.
	SearchPath string
}

// Resolve returns dir/name for the first search-path entry where that
// file exists, is not a directory and the server may execute it.
// Empty entries are skipped rather than meaning the working directory.
// The name is appended as given, so a name containing a slash is still
// looked up relative to each entry.
func (r *Resolver) Resolve(name string) (string, error) {
	if name == "" {
		return "", ncerr.ErrCommandNotFound
	}
	list := r.SearchPath
	if list == "" {
		list = os.Getenv("PATH")
	}
	for _, dir := range strings.Split(list, ":") {
		if dir == "" {
			continue
		}
		candidate := dir + "/" + name
		fi, err := os.Stat(candidate)
		if err != nil || fi.IsDir() {
			continue
		}
		if unix.Access(candidate, unix.X_OK) == nil {
			return candidate, nil
		}
	}
	return "", ncerr.ErrCommandNotFound
}
