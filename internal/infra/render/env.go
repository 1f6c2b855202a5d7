package render

import (
	"os"
	"strings"
)

const pathVar = "PATH"

// processEnv is the environment of a launched renderer: the current one with
// overrides applied and searchPath placed ahead of PATH. TeX distributions
// commonly live outside the PATH a service manager hands to its children.
func processEnv(base []string, overrides map[string]string, searchPath []string) []string {
	env := append([]string(nil), base...)
	for key, value := range overrides {
		env = setEnv(env, key, value)
	}
	if len(searchPath) == 0 {
		return env
	}
	sep := string(os.PathListSeparator)
	merged := joinPathLists(strings.Join(searchPath, sep), lookupEnv(env, pathVar))
	return setEnv(env, pathVar, merged)
}

// lookupEnv returns the last value of key, matching exec's precedence.
func lookupEnv(env []string, key string) string {
	prefix := key + "="
	var value string
	for _, entry := range env {
		if rest, ok := strings.CutPrefix(entry, prefix); ok {
			value = rest
		}
	}
	return value
}

// setEnv drops every existing key entry and appends key=value.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	out := env[:0:0]
	for _, entry := range env {
		if !strings.HasPrefix(entry, prefix) {
			out = append(out, entry)
		}
	}
	return append(out, prefix+value)
}

// joinPathLists concatenates PATH-style lists, keeping the first occurrence
// of each directory.
func joinPathLists(lists ...string) string {
	sep := string(os.PathListSeparator)
	seen := make(map[string]struct{})
	var dirs []string
	for _, list := range lists {
		for _, dir := range strings.Split(list, sep) {
			dir = strings.TrimSpace(dir)
			if dir == "" {
				continue
			}
			if _, dup := seen[dir]; dup {
				continue
			}
			seen[dir] = struct{}{}
			dirs = append(dirs, dir)
		}
	}
	return strings.Join(dirs, sep)
}
