// Command cript is the §6 "CLI surface": a thin front end over the cript
// package, out of the execution core itself. It owns argument parsing,
// environment-variable reads, the REPL, and exit-code mapping — none of
// which the embeddable core knows or cares about.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/b-jure/Cript"
)

// version is reported by -v; no build-stamping machinery, just a constant,
// matching how small the rest of this front end stays.
const version = "cript 0.1"

// Exit codes, §6: 0 success, 1 runtime error in script, 2 syntax error,
// 3 memory error, 4 error object error.
const (
	exitOK          = 0
	exitRuntime     = 1
	exitSyntax      = 2
	exitMemory      = 3
	exitErrorObject = 4
)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	var chunks []string
	var preloads []string
	var interactive, showVersion, ignoreEnv bool

	cmd := &cli.Command{
		Name:  "cript",
		Usage: "cript [options] [script [args]]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "e",
				Usage: "run chunk",
			},
			&cli.StringSliceFlag{
				Name:  "l",
				Usage: "preload module",
			},
			&cli.BoolFlag{
				Name:  "i",
				Usage: "enter REPL after script",
			},
			&cli.BoolFlag{
				Name:  "v",
				Usage: "print version",
			},
			&cli.BoolFlag{
				Name:  "E",
				Usage: "ignore environment",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			chunks = c.StringSlice("e")
			preloads = c.StringSlice("l")
			interactive = c.Bool("i")
			showVersion = c.Bool("v")
			ignoreEnv = c.Bool("E")
			return nil
		},
	}
	if err := cmd.Run(context.Background(), argv); err != nil {
		fmt.Fprintln(os.Stderr, "cript:", err)
		return exitSyntax
	}

	if showVersion {
		fmt.Println(version)
		if !interactive && len(chunks) == 0 && cmd.Args().Len() == 0 {
			return exitOK
		}
	}

	env := loadEnv(ignoreEnv)

	s := cript.New()
	installPath(s, env)

	for _, name := range preloads {
		if code := preload(s, name, env); code != exitOK {
			return code
		}
	}

	for _, chunk := range chunks {
		if code := runString(s, chunk); code != exitOK {
			return code
		}
	}

	args := cmd.Args().Slice()
	ranScript := false
	if len(args) > 0 {
		ranScript = true
		if code := runFile(s, args[0], args[1:]); code != exitOK {
			return code
		}
	}

	if interactive || (!ranScript && len(chunks) == 0) {
		repl(s)
	}

	return exitOK
}

// runString executes a -e chunk in protected mode, reporting errors
// through stderr under the §6 exit-code mapping.
func runString(s *cript.State, source string) int {
	return runChunk(s, "=(command line)", source)
}

// runFile reads and runs a script file, distinguishing "file not found"
// (a memory/IO error, exit 3) from syntax and runtime errors.
func runFile(s *cript.State, path string, scriptArgs []string) int {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cript:", err)
		return exitMemory
	}
	installArgs(s, path, scriptArgs)
	return runChunk(s, path, string(src))
}

// preload requires a named module before the main chunk runs, §6 "-l name".
func preload(s *cript.State, name string, env cliEnv) int {
	path := resolveModule(name, env)
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cript:", err)
		return exitMemory
	}
	return runChunk(s, name, string(src))
}

// runChunk compiles then calls source as two distinct steps so a compile
// failure is reported as exitSyntax regardless of what the call step would
// have classified it as.
func runChunk(s *cript.State, chunkName, source string) int {
	cl, err := s.Compile(chunkName, source)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cript:", err)
		return exitSyntax
	}
	if err := s.Call(cl, nil); err != nil {
		fmt.Fprintln(os.Stderr, "cript:", err)
		return classifyExit(err)
	}
	return exitOK
}

// classifyExit maps a Call error onto the §6 runtime exit codes.
func classifyExit(err error) int {
	switch cript.ClassifyRunError(err) {
	case cript.RunErrorMemory:
		return exitMemory
	case cript.RunErrorObject:
		return exitErrorObject
	default:
		return exitRuntime
	}
}
