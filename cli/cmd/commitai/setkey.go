package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"commitai/cli/internal/erruser"
)

func newSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the OpenAI API key (read from the terminal without echo, or from stdin)",
		Args:  cobra.NoArgs,
		RunE:  runSetKey,
	}
}

func runSetKey(cmd *cobra.Command, args []string) error {
	cwd, err := workingDir()
	if err != nil {
		return err
	}
	e, err := setup(cmd, cwd)
	if err != nil {
		return err
	}
	key, err := readKey(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return erruser.New("Could not read the API key.", err)
	}
	if strings.TrimSpace(key) == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "No key entered; the stored key is unchanged.")
		return nil
	}
	if err := e.gate.Set(cmd.Context(), key); err != nil {
		return erruser.New("Could not save the API key.", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "API key saved to %s\n", e.credPath)
	return nil
}

// readKey prompts without echo when in is a terminal; otherwise it reads the
// first line of in.
func readKey(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "OpenAI API key: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}
