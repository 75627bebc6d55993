package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/b-jure/Cript"
)

// defaultPath is substituted wherever a path template contains the `;;`
// marker, §6 "A `;;` sequence substitutes in the default".
const defaultPath = "./?.crp"

// cliEnv holds the §6 environment-variable surface, read once at startup
// (or left zeroed when -E/CRIPT_NOENV says to ignore the environment).
type cliEnv struct {
	path string // CRIPT_PATH template
}

// loadEnv reads CRIPT_PATH/CRIPT_NOENV directly via os.Getenv, matching the
// teacher's avoidance of a config-loading framework for two env lookups.
func loadEnv(ignoreFlag bool) cliEnv {
	if ignoreFlag || os.Getenv("CRIPT_NOENV") != "" {
		return cliEnv{path: defaultPath}
	}
	path := os.Getenv("CRIPT_PATH")
	if path == "" {
		path = defaultPath
	}
	return cliEnv{path: path}
}

// installPath currently has nothing to wire into the running state: module
// resolution is a CLI-local concern (resolveModule below), and the core has
// no require() surface for scripts to introspect CRIPT_PATH through.
func installPath(s *cript.State, env cliEnv) {}

// resolveModule expands CRIPT_PATH's `;`-separated template, substituting
// `?` with name and `;;` with the built-in default, trying each candidate
// in turn until one exists on disk. Falls back to name+".crp" in the
// executable's directory if nothing in the template matches.
func resolveModule(name string, env cliEnv) string {
	tmpl := env.path
	if tmpl == "" {
		tmpl = defaultPath
	}
	for _, raw := range strings.Split(tmpl, ";") {
		if raw == "" {
			raw = defaultPath
		}
		candidate := strings.ReplaceAll(raw, "?", name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	exeDir := "."
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}
	return filepath.Join(exeDir, name+".crp")
}

// installArgs exposes the script path and trailing CLI arguments as a
// global "arg" array, the one piece of process-launch context the core
// itself has no notion of. arg[0] is scriptPath, matching §6's argv-style
// convention; the rest are the args trailing it on the command line.
func installArgs(s *cript.State, scriptPath string, scriptArgs []string) {
	elems := make([]string, 0, len(scriptArgs)+1)
	elems = append(elems, scriptPath)
	elems = append(elems, scriptArgs...)
	s.SetGlobalArray("arg", elems)
}
