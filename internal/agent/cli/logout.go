package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and revoke the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			access, err := a.store.AccessToken()
			if err != nil {
				fmt.Println("Not signed in.")
				return nil
			}
			refresh, _ := a.store.RefreshToken()

			// Server-side revocation is best effort: the local session is
			// cleared even when the backend is unreachable.
			if err := a.client.Logout(cmd.Context(), access, refresh); err != nil {
				slog.Warn("server-side logout failed", "error", err)
			}
			if err := a.store.Clear(); err != nil {
				return fmt.Errorf("clearing local session: %w", err)
			}
			printSuccess("Signed out")
			return nil
		},
	}
}
