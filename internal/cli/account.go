package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mesh-intelligence/docrel/internal/auth"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// readPassword prompts without echo on a terminal and reads one line
// otherwise, so passwords can be piped in scripts.
func (a *app) readPassword(cmd *cobra.Command, prompt string) (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", userErrorf("no password on stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLoginCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long:  "Sign in and save the session in the config directory for later commands.\nThe password is prompted for, or read from stdin when it is not a terminal.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return userErrorf("--email is required")
			}
			password, err := a.readPassword(cmd, "Password: ")
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			s, err := c.Auth().SignInWithPassword(cmd.Context(), email, password)
			if err != nil {
				if types.IsUnauthorized(err) {
					return userErrorf("sign in failed: invalid email or password")
				}
				return err
			}
			if err := a.saveSession(c); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			return a.printJSON(cmd, s.User)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	var p auth.SignUpParams
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Long:  "Create an account, sign in and request a verification email. A failed\nverification request does not fail sign-up.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if p.Email == "" {
				return userErrorf("--email is required")
			}
			password, err := a.readPassword(cmd, "Choose a password: ")
			if err != nil {
				return err
			}
			p.Password = password

			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			s, err := c.Auth().SignUp(cmd.Context(), p)
			if err != nil {
				var se *types.StoreError
				if errors.As(err, &se) && se.Status < 500 {
					return &userError{err: err}
				}
				return err
			}
			if err := a.saveSession(c); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			return a.printJSON(cmd, s.User)
		},
	}
	cmd.Flags().StringVar(&p.Email, "email", "", "account email")
	cmd.Flags().StringVar(&p.Name, "name", "", "display name")
	cmd.Flags().StringVar(&p.VerifyURL, "verify-url", "", "page the verification email links to")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			signOutErr := c.Auth().SignOut(cmd.Context())
			if err := a.saveSession(c); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			if signOutErr != nil {
				return signOutErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			u, err := c.Auth().CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			if u == nil {
				return userErrorf("not signed in")
			}
			return a.printJSON(cmd, u)
		},
	}
}
