package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/petsync/internal/adapters/identity"
	"github.com/jbctechsolutions/petsync/internal/application"
	dmerrors "github.com/jbctechsolutions/petsync/internal/domain/errors"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/storage"
)

// NewRunCmd creates the run command that starts the daemon in the
// foreground. The service manager invokes this same command.
func NewRunCmd() *cobra.Command {
	var storeBackend string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon in the foreground",
		Long: `Run the petsync daemon: restore the paired session, reconcile the local
agent installation with the remote device document, execute remote
commands, relay chat, and publish heartbeats until interrupted.

The device must already be paired; run "petsync login" first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), storeBackend)
		},
	}

	cmd.Flags().StringVar(&storeBackend, "store", "", "store backend override: remote, memory")

	return cmd
}

func runDaemon(ctx context.Context, storeBackend string) error {
	app := GetAppContext()

	creds, err := identity.LoadCredentials(app.Paths.CredentialsFile)
	if err != nil {
		return fmt.Errorf("%w: run \"petsync login\" to pair this device", dmerrors.ErrNotPaired)
	}

	session := identity.NewSession(identityEndpoints(app.Config), app.Paths.CredentialsFile, creds, app.Logger)

	store, err := newStore(app.Config, storeBackend, session)
	if err != nil {
		return err
	}

	opts := application.DaemonOptions{
		Config:  app.Config,
		Paths:   app.Paths,
		Session: session,
		Store:   store,
		Logger:  app.Logger,
		Tracer:  app.Tracer,
		Version: Version,
	}

	// The journal is observability only; a broken database never blocks
	// the daemon.
	if journal, err := storage.NewActivityRepository(app.Paths.JournalFile); err != nil {
		app.Logger.Warn("activity journal unavailable", "error", err)
	} else {
		defer journal.Close()
		opts.Journal = journal
	}

	daemon, err := application.NewDaemon(opts)
	if err != nil {
		return err
	}

	if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
