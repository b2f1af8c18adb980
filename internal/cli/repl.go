package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// errQuit ends the REPL.
var errQuit = errors.New("quit")

// splitArgs splits a command line on spaces, keeping single or double
// quoted runs together.
func splitArgs(line string) ([]string, error) {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}

// runREPL reads one command per line and executes it against a fresh
// command tree, so flags never leak between lines. Command errors are
// printed and the loop goes on; it ends on EOF, exit or quit.
func runREPL(ctx context.Context, a *App, reader *bufio.Reader, w io.Writer) {
	for {
		fmt.Fprint(w, "goterm> ")
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			fmt.Fprintln(w)
			return
		}

		args, perr := splitArgs(strings.TrimSpace(line))
		if perr != nil {
			fmt.Fprintln(w, "error:", perr)
			continue
		}
		if len(args) == 0 {
			continue
		}

		root := a.rootCmd()
		root.SetArgs(args)
		if err := root.ExecuteContext(ctx); err != nil {
			if errors.Is(err, errQuit) {
				fmt.Fprintln(w, "Bye!")
				return
			}
			fmt.Fprintln(w, "error:", err)
		}
	}
}
