package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/petsync/internal/adapters/identity"
	"github.com/jbctechsolutions/petsync/internal/domain/device"
)

// NewLogoutCmd creates the logout command that unpairs this device.
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unpair this device and remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd.Context())
		},
	}
}

func runLogout(ctx context.Context) error {
	app := GetAppContext()
	formatter := GetFormatter()

	creds, err := identity.LoadCredentials(app.Paths.CredentialsFile)
	if err != nil {
		formatter.Println("Not paired; nothing to do.")
		return nil
	}

	// Best effort: mark the device offline so the account view does not
	// show a ghost. A dead store must not block forgetting the pairing.
	session := identity.NewSession(identityEndpoints(app.Config), app.Paths.CredentialsFile, creds, app.Logger)
	if store, err := newStore(app.Config, "", session); err == nil {
		offCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := store.Set(offCtx, device.DocPath(creds.DeviceID), map[string]interface{}{
			"status":   string(device.StatusOffline),
			"lastSeen": time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			app.Logger.Warn("offline mark failed", "error", err)
		}
		cancel()
	}

	if err := identity.RemoveCredentials(app.Paths.CredentialsFile); err != nil {
		return err
	}
	formatter.Success("unpaired %s (device %s)", creds.Email, creds.DeviceID)
	return nil
}
