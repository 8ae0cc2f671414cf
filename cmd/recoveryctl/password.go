package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// passwordReader prompts for secrets. On a terminal echo is disabled;
// otherwise one line is read per prompt so passwords can be piped in.
type passwordReader struct {
	fd     int
	lines  *bufio.Reader
	prompt io.Writer
}

func newPasswordReader(fd int, in io.Reader, prompt io.Writer) *passwordReader {
	return &passwordReader{fd: fd, lines: bufio.NewReader(in), prompt: prompt}
}

func (p *passwordReader) read(label string) (string, error) {
	fmt.Fprintf(p.prompt, "%s: ", label)

	if term.IsTerminal(p.fd) {
		secret, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.prompt)
		if err != nil {
			return "", fmt.Errorf("could not read %s: %w", strings.ToLower(label), err)
		}
		return string(secret), nil
	}

	line, err := p.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("could not read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readConfirmed prompts twice and returns both answers; the orchestrator
// checks that they match.
func (p *passwordReader) readConfirmed(label string) (string, string, error) {
	first, err := p.read(label)
	if err != nil {
		return "", "", err
	}
	second, err := p.read("Confirm " + strings.ToLower(label))
	if err != nil {
		return "", "", err
	}
	return first, second, nil
}
