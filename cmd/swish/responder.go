package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ruffel/swish"
	"golang.org/x/term"
)

// responder answers keyboard-interactive challenges on the terminal.
// Prompts that must not echo are read with term.ReadPassword when fd is a
// terminal; otherwise every answer is read as a line from in.
type responder struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

var _ swish.Responder = (*responder)(nil)

func newResponder(in io.Reader, out io.Writer, fd int) *responder {
	return &responder{in: bufio.NewReader(in), out: out, fd: fd}
}

func (r *responder) Respond(c swish.Challenge) ([]string, error) {
	if c.Title != "" {
		fmt.Fprintln(r.out, promptStyle.Render(c.Title))
	}

	if c.Instructions != "" {
		fmt.Fprintln(r.out, c.Instructions)
	}

	answers := make([]string, 0, len(c.Prompts))

	for _, p := range c.Prompts {
		answer, err := r.ask(p.Text, p.Echo)
		if err != nil {
			return nil, err
		}

		answers = append(answers, answer)
	}

	return answers, nil
}

func (r *responder) ask(prompt string, echo bool) (string, error) {
	fmt.Fprint(r.out, prompt)

	if !echo && r.fd >= 0 {
		b, err := term.ReadPassword(r.fd)
		fmt.Fprintln(r.out)

		if err != nil {
			return "", fmt.Errorf("failed to read answer: %w", err)
		}

		return string(b), nil
	}

	line, err := r.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}
