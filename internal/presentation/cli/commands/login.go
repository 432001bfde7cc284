package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/petsync/internal/adapters/identity"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/hostinfo"
)

// NewLoginCmd creates the login command that pairs this device.
func NewLoginCmd() *cobra.Command {
	var storeBackend string

	cmd := &cobra.Command{
		Use:   "login [code]",
		Short: "Pair this device with a cloud account",
		Long: `Pair this device with a cloud account.

Without arguments the command opens an interactive flow: it prints an
approval URL for the browser and simultaneously accepts a pairing code
typed at the prompt, whichever finishes first. With a code argument the
code is redeemed directly.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := ""
			if len(args) == 1 {
				code = args[0]
			}
			return runLogin(cmd.Context(), code, storeBackend)
		},
	}

	cmd.Flags().StringVar(&storeBackend, "store", "", "store backend override: remote, memory")

	return cmd
}

func runLogin(ctx context.Context, code, storeBackend string) error {
	app := GetAppContext()
	formatter := GetFormatter()

	if existing, err := identity.LoadCredentials(app.Paths.CredentialsFile); err == nil {
		formatter.Warning("already paired as %s (device %s); run \"petsync logout\" first to re-pair",
			existing.Email, existing.DeviceID)
		return nil
	}

	session := identity.NewSession(identityEndpoints(app.Config), app.Paths.CredentialsFile, nil, app.Logger)

	deviceID := hostinfo.DeviceID(hostinfo.MachineID())
	deviceName := hostinfo.DisplayName()
	deviceInfo := hostinfo.Collect().Map()
	deviceInfo["name"] = deviceName

	var creds *identity.Credentials
	if code != "" {
		claimed, err := session.ClaimDevice(ctx, code, deviceID, deviceInfo)
		if err != nil {
			return err
		}
		claimed.DeviceName = deviceName
		creds = claimed
	} else {
		store, err := newStore(app.Config, storeBackend, session)
		if err != nil {
			return err
		}
		flow := identity.NewLoginFlow(session, store, app.Config.Identity.LoginTimeout)
		result, err := flow.Run(ctx, deviceID, deviceName, deviceInfo)
		if err != nil {
			return err
		}
		creds = result.Credentials
	}

	if err := identity.SaveCredentials(app.Paths.CredentialsFile, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	formatter.Success("paired as %s", creds.Email)
	formatter.Println("  %s %s", formatter.Dim("Device:"), creds.DeviceID)
	formatter.Println("  Start the daemon with %s, or install the service with %s.",
		formatter.Bold("petsync run"), formatter.Bold("petsync service install"))
	return nil
}
