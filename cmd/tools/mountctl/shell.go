package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"

	"github.com/fisaks/mountlink/internal/protocol"
)

const (
	historyFileName = ".mountctl_history"
	historySize     = 500
)

// lineReader uses readline on a terminal and a plain scanner when stdin is
// piped.
type lineReader struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
}

func newLineReader() *lineReader {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
	}
	home, _ := os.UserHomeDir()
	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            filepath.Join(home, historyFileName),
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
	}
	return &lineReader{rl: rl}
}

func (r *lineReader) readLine(prompt string) (string, error) {
	if r.rl == nil {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return r.scanner.Text(), nil
	}
	r.rl.SetPrompt(prompt)
	line, err := r.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if s := strings.TrimSpace(line); s != "" {
		r.rl.SaveToHistory(s)
	}
	return line, nil
}

func (r *lineReader) close() {
	if r.rl != nil {
		r.rl.Close()
	}
}

// runShell reads one batch per line and prints the reply. A line may omit
// the trailing delimiter; ".ack TOKEN BATCH" sends with an expected ack.
func runShell(args []string) error {
	fs := flag.NewFlagSet("shell", flag.ExitOnError)
	cf := addConnFlags(fs)
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		return err
	}
	conn, err := cf.connection()
	if err != nil {
		return err
	}

	lr := newLineReader()
	defer lr.close()
	prompt := conn.Addr() + "> "
	for {
		line, err := lr.readLine(prompt)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		batch, ack, ok := parseShellLine(line)
		if !ok {
			continue
		}
		if batch == ".quit" {
			return nil
		}
		if err := printResult(conn.Exchange(batch, ack)); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func parseShellLine(line string) (batch, ack string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ";") {
		return "", "", false
	}
	if line == ".quit" || line == ".exit" {
		return ".quit", "", true
	}
	if rest, found := strings.CutPrefix(line, ".ack "); found {
		ack, batch, found = strings.Cut(strings.TrimSpace(rest), " ")
		if !found {
			return "", "", false
		}
		line = strings.TrimSpace(batch)
	}
	if !strings.HasSuffix(line, protocol.Delimiter) {
		line += protocol.Delimiter
	}
	return line, ack, true
}
