package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/petsync/internal/infrastructure/service"
)

// NewServiceCmd creates the service command group that registers the daemon
// with the platform service manager.
func NewServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the boot-time daemon service",
		Long: `Manage the boot-time daemon service.

On macOS this installs a launchd agent; on Linux, a systemd user unit.
The service runs "petsync run" and restarts it on failure.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install and start the daemon service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := GetAppContext()
			logFile := filepath.Join(app.Paths.Home, "petsync.log")
			if err := service.Install(logFile); err != nil {
				return err
			}
			GetFormatter().Success("service installed; logs at %s", logFile)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the daemon service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := service.Uninstall(); err != nil {
				return err
			}
			GetFormatter().Success("service removed")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := service.Restart(); err != nil {
				return err
			}
			GetFormatter().Success("service restarted")
			return nil
		},
	})

	return cmd
}
