package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter collects interactive input. Reads and the secret path are
// injectable so prompting is testable without a terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer

	// fd is the file descriptor of the input stream when it is backed by a
	// file (normally stdin); -1 for plain readers, which never get the
	// terminal treatment.
	fd int

	// readPassword reads a secret without echoing; defaults to the terminal
	// implementation when the input stream is a TTY.
	readPassword func(fd int) ([]byte, error)
	isTerminal   func(fd int) bool
}

// NewPrompter builds a prompter on the given streams.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	fd := -1
	if f, ok := in.(*os.File); ok {
		fd = int(f.Fd())
	}
	return &Prompter{
		in:           bufio.NewReader(in),
		out:          out,
		fd:           fd,
		readPassword: term.ReadPassword,
		isTerminal:   term.IsTerminal,
	}
}

// Ask prompts for one value, returning def when the answer is empty.
func (p *Prompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// AskInt prompts for an integer, returning def on an empty answer.
func (p *Prompter) AskInt(label string, def int) (int, error) {
	defStr := ""
	if def != 0 {
		defStr = strconv.Itoa(def)
	}
	answer, err := p.Ask(label, defStr)
	if err != nil {
		return 0, err
	}
	if answer == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(answer)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", label, answer)
	}
	return n, nil
}

// AskSecret prompts for a value without echoing it. Off a terminal (pipes,
// plain readers, tests) it falls back to a line read of the input stream.
func (p *Prompter) AskSecret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if p.fd >= 0 && p.isTerminal(p.fd) {
		secret, err := p.readPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ConfirmExact prompts and reports whether the operator typed expected,
// exactly. Anything else, including case differences, is a decline.
func (p *Prompter) ConfirmExact(label, expected string) (bool, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	return strings.TrimSpace(line) == expected, nil
}
