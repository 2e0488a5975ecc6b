package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// errNotConfirmed is returned when the operator declines a prompt.
var errNotConfirmed = errors.New("cancelled")

// StdinIsTerminal reports whether the process reads from an interactive terminal.
func StdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// readSecret prompts for a secret. On a terminal the input is not echoed;
// otherwise one line is read from stdin.
func (a *app) readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)

	if a.env.IsTerminal() {
		if f, ok := a.env.Stdin.(*os.File); ok {
			secret, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return "", fmt.Errorf("read secret: %w", err)
			}
			return strings.TrimSpace(string(secret)), nil
		}
	}

	line, err := readLine(a.env.Stdin)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return line, nil
}

// confirm asks the operator to type want and reports whether they did.
func (a *app) confirm(cmd *cobra.Command, prompt, want string) error {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)

	line, err := readLine(a.env.Stdin)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if !strings.EqualFold(line, want) {
		return errNotConfirmed
	}
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
