package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var errInputClosed = errors.New("input closed")

// prompter reads answers line by line. Writes are serialized so the OTP
// countdown can print while a prompt is open.
type prompter struct {
	in  *bufio.Scanner
	out io.Writer
	mu  sync.Mutex
	// tty is the terminal descriptor behind in, or -1.
	tty int
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewScanner(in), out: out, tty: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = int(f.Fd())
	}
	return p
}

func (p *prompter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *prompter) ask(label string) (string, error) {
	p.printf("%s: ", label)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", fmt.Errorf("read answer: %w", err)
		}
		return "", errInputClosed
	}
	return strings.TrimSpace(p.in.Text()), nil
}

// secret reads an answer without echo when in is a terminal.
func (p *prompter) secret(label string) (string, error) {
	if p.tty < 0 {
		return p.ask(label)
	}
	p.printf("%s: ", label)
	b, err := term.ReadPassword(p.tty)
	p.printf("\n")
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func formatCountdown(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
