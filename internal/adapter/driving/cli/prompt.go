package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readSecret prompts on stderr and reads one line without echo when stdin is a
// terminal. Non-terminal input (pipes, tests) is read as a plain line.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	return readLine(cmd)
}

// readLine reads one line from the command's input. It reads byte by byte so that
// consecutive prompts in one command do not lose input to a read-ahead buffer.
func readLine(cmd *cobra.Command) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := cmd.InOrStdin().Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if errors.Is(err, io.EOF) {
			if sb.Len() == 0 {
				return "", fmt.Errorf("read input: %w", err)
			}
			break
		}
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// confirm asks a yes/no question and reports whether the answer was "yes" or "y".
func confirm(cmd *cobra.Command, question string) (bool, error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)
	answer, err := readLine(cmd)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
