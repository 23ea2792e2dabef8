package cli

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/textextract/textextract/internal/agent/api"
	"github.com/textextract/textextract/internal/agent/credstore"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			access, err := a.store.AccessToken()
			if err != nil {
				fmt.Println("Not signed in.")
				return nil
			}

			user, err := a.client.Profile(cmd.Context(), access)
			if errors.Is(err, api.ErrUnauthorized) {
				// Expired access token; try the refresh token once before
				// giving up on the session.
				if refreshed := tryRefresh(a, cmd); refreshed != nil {
					user = refreshed
				} else {
					fmt.Println("Session expired. Run `textextract-agent login` to sign in again.")
					return nil
				}
			} else if err != nil {
				return err
			}

			bold := color.New(color.Bold)
			bold.Printf("Signed in as %s\n", user.Email)
			fmt.Printf("  Plan:     %s\n", user.Plan)
			fmt.Printf("  Status:   %s\n", user.Status)
			if a.keyring {
				fmt.Println("  Storage:  OS keyring")
			} else {
				fmt.Println("  Storage:  in-memory (session ends with this process)")
			}
			return nil
		},
	}
}

// tryRefresh exchanges the stored refresh token for a new access token and
// re-runs the profile call. Returns nil when the session cannot be restored.
func tryRefresh(a *app, cmd *cobra.Command) *api.User {
	refresh, err := a.store.RefreshToken()
	if err != nil {
		return nil
	}
	access, err := a.client.Refresh(cmd.Context(), refresh)
	if err != nil {
		return nil
	}
	email, _ := a.store.Email()
	userID, _ := a.store.UserID()
	if err := a.store.Save(credstore.Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       userID,
		Email:        email,
	}); err != nil {
		return nil
	}
	user, err := a.client.Profile(cmd.Context(), access)
	if err != nil {
		return nil
	}
	return user
}
