package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/textextract/textextract/internal/agent/browserauth"
	"github.com/textextract/textextract/internal/agent/credstore"
)

func newLoginCmd(a *app) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to TextExtract",
		Long: `Sign in to TextExtract.

Without flags, opens the browser login page and waits for the redirect.
With --email, prompts for a password and signs in directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email != "" {
				return directLogin(cmd.Context(), a, email)
			}
			return browserLogin(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "sign in directly with this email instead of the browser flow")
	return cmd
}

func browserLogin(ctx context.Context, a *app) error {
	if a.store.IsAuthenticated() {
		email, _ := a.store.Email()
		printSuccess("Already signed in as %s", email)
		return nil
	}

	fmt.Println("Opening your browser to sign in...")
	o := browserauth.New(a.store, a.client, a.client.BaseURL)
	out, err := o.Authenticate(ctx)
	if err != nil {
		switch {
		case errors.Is(err, browserauth.ErrBrowserLaunchFailed):
			return fmt.Errorf("could not open a browser; run again with --email to sign in directly")
		case errors.Is(err, browserauth.ErrAuthTimedOut):
			return fmt.Errorf("login timed out; run again to retry")
		default:
			return err
		}
	}
	printSuccess("Signed in as %s", out.Email)
	return nil
}

func directLogin(ctx context.Context, a *app, email string) error {
	fmt.Fprintf(os.Stderr, "Password for %s: ", email)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	res, err := a.client.Login(ctx, email, string(pw))
	if err != nil {
		return err
	}
	err = a.store.Save(credstore.Credentials{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		UserID:       res.User.ID,
		Email:        res.User.Email,
	})
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	printSuccess("Signed in as %s", res.User.Email)
	return nil
}

func printSuccess(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func printError(err error) {
	color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
}
