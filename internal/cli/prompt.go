package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
)

// prompter asks for input on the command line. Secrets are read without echo when the
// input is a terminal.
type prompter struct {
	in  io.Reader
	r   *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	if in == nil {
		in = os.Stdin
	}
	return &prompter{in: in, r: bufio.NewReader(in), out: out}
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprint(p.out, label+": ")
	line, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *prompter) secret(label string) (string, error) {
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(f.Fd()) {
		fmt.Fprint(p.out, label+": ")
		b, err := term.ReadPassword(f.Fd())
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
		}
		return string(b), nil
	}
	return p.ask(label)
}
