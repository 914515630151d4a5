package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/KevinKickass/OpenStageCore/internal/auth"
	"github.com/spf13/cobra"
)

func loginCmd(opts *globalOptions) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print an access token",
		Long:  "Reads the password from stdin and prints a token for --token or OSC_TOKEN.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}

			client := opts.client()
			defer client.Close()

			token, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "user", "u", "", "user name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password from stdin for auth.users[].password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.NewPasswordHasher().HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func genTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-token",
		Short: "Generate an API token and the hash for auth.api_tokens[].token_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, hash, err := auth.GenerateAPIToken()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token: %s\n", token)
			fmt.Fprintf(out, "token_hash: %s\n", hash)
			return nil
		},
	}
}

// readSecret reads the first line of r.
func readSecret(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return "", fmt.Errorf("empty secret on stdin")
	}
	return line, nil
}
