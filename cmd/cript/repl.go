package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/b-jure/Cript"
)

// repl implements §6 "-i enter REPL after script": a line editor with
// history, one compile+call per line, falling back to wrapping the line
// as a return-expression the way an interactive shell conveniently lets
// you type a bare expression and see its value.
func repl(s *cript.State) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "cript:", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "cript:", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		replEval(s, line)
	}
}

// replEval tries line as an expression first (prefixing "return "), the
// way an interactive shell lets a bare expression print its value, and
// falls back to running it as a statement if that doesn't compile.
func replEval(s *cript.State, line string) {
	if cl, err := s.Compile("=(repl)", "return "+line); err == nil {
		results, err := s.CallResults(cl, nil, 1)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		if len(results) > 0 && !results[0].IsNil() {
			fmt.Println(s.Thread().ToString(results[0]))
		}
		return
	}
	if err := s.Run("=(repl)", line); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// historyPath keeps REPL history alongside other dotfiles; readline
// tolerates a path it can't create by simply disabling persistence.
func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.cript_history"
}
