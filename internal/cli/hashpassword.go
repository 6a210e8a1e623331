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

	"localcal/internal/auth"
	"localcal/internal/config"
	appLog "localcal/internal/log"
)

// NewHashPasswordCommand creates the hash-password command.
func NewHashPasswordCommand(rootOpts *RootOptions) *cobra.Command {
	var username string
	var write bool

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password for HTTP basic auth (Argon2id)",
		Long: `Prompts for a password twice and prints its Argon2id hash. With
--write the username and hash are stored as basic_auth in the config file.

When stdin is not a terminal the password is read from its first line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readNewPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			if !write {
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			}
			if username == "" {
				return errors.New("--write needs --username")
			}
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			cfg.BasicAuth = &config.BasicAuthConfig{Username: username, PasswordHash: hash}
			if err := cfg.Save(rootOpts.ConfigPath); err != nil {
				return err
			}
			appLog.Info("basic auth credentials written", "path", rootOpts.ConfigPath, "username", username)
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "basic auth username (with --write)")
	cmd.Flags().BoolVar(&write, "write", false, "store the credentials in the config file")
	return cmd
}

// readNewPassword reads a password and its confirmation, masked when in is a
// terminal.
func readNewPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		fmt.Fprint(prompt, "Enter password:   ")
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprint(prompt, "Confirm password: ")
		confirm, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password confirmation: %w", err)
		}
		if string(password) != string(confirm) {
			return "", errors.New("passwords do not match")
		}
		if len(password) == 0 {
			return "", errors.New("password cannot be empty")
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}
