// Package application assembles the daemon from its components: the sync
// engine, command processor, chat relay, and heartbeat publisher, all
// sharing one document store, one echo guard, and one identity session.
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jbctechsolutions/petsync/internal/adapters/gateway"
	"github.com/jbctechsolutions/petsync/internal/adapters/identity"
	"github.com/jbctechsolutions/petsync/internal/adapters/secrets"
	"github.com/jbctechsolutions/petsync/internal/application/chat"
	"github.com/jbctechsolutions/petsync/internal/application/command"
	"github.com/jbctechsolutions/petsync/internal/application/heartbeat"
	"github.com/jbctechsolutions/petsync/internal/application/ports"
	syncapp "github.com/jbctechsolutions/petsync/internal/application/sync"
	"github.com/jbctechsolutions/petsync/internal/domain/device"
	dmerrors "github.com/jbctechsolutions/petsync/internal/domain/errors"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/binpath"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/hostinfo"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/localstate"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/tracing"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/watcher"
)

// agentBinary is the CLI binary of the managed agent.
const agentBinary = "agent"

// agentPackage and daemonPackage are the registry package names used by the
// update commands.
const (
	agentPackage  = "petagent"
	daemonPackage = "petsync"
)

// DaemonOptions carries everything the daemon needs that the CLI resolves:
// configuration, paths, the restored-or-restorable session, and the store
// backend chosen by flags.
type DaemonOptions struct {
	Config  *config.Config
	Paths   *config.Paths
	Session *identity.Session
	Store   ports.DocumentStore
	Journal ports.ActivityJournal
	Logger  *logging.Logger
	Tracer  *tracing.Tracer
	Version string

	// Exit terminates the process on mid-run revocation. Defaults to
	// os.Exit.
	Exit func(code int)
}

// Daemon is the assembled long-running process.
type Daemon struct {
	opts   DaemonOptions
	logger *logging.Logger

	deviceID  string
	local     *localstate.Store
	codec     ports.SecretCodec
	guard     *syncapp.Guard
	engine    *syncapp.Engine
	processor *command.Processor
	relay     *chat.Relay
	publisher *heartbeat.Publisher
}

// NewDaemon wires the daemon. The session must carry valid credentials.
func NewDaemon(opts DaemonOptions) (*Daemon, error) {
	if opts.Config == nil || opts.Paths == nil || opts.Session == nil || opts.Store == nil {
		return nil, fmt.Errorf("daemon: config, paths, session, and store are required")
	}
	creds := opts.Session.Credentials()
	if creds == nil || !creds.Valid() {
		return nil, dmerrors.ErrNotPaired
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Default()
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	d := &Daemon{
		opts:     opts,
		logger:   opts.Logger.With("component", "daemon"),
		deviceID: creds.DeviceID,
		local:    localstate.NewStore(opts.Paths),
	}

	if opts.Config.Secrets.EncryptURL != "" && opts.Config.Secrets.DecryptURL != "" {
		d.codec = secrets.NewCodec(secrets.Config{
			EncryptURL: opts.Config.Secrets.EncryptURL,
			DecryptURL: opts.Config.Secrets.DecryptURL,
			Timeout:    opts.Config.Secrets.Timeout,
		}, opts.Session)
	}

	d.guard = syncapp.NewGuard(opts.Config.Sync.LocalQuietWindow, opts.Config.Sync.RemoteQuietWindow)

	controller := gateway.NewController(agentBinary, opts.Logger, d.recordGatewayRestart)
	agentVersion := func() string { return binpath.Version(agentBinary) }

	d.engine = syncapp.NewEngine(syncapp.Config{
		DeviceID:      d.deviceID,
		DaemonVersion: opts.Version,
		Store:         opts.Store,
		Local:         d.local,
		Gateway:       controller,
		Codec:         d.codec,
		Journal:       opts.Journal,
		Guard:         d.guard,
		Logger:        opts.Logger,
		Tracer:        opts.Tracer,
		ReloadEnv:     d.loadEnvAndSecrets,
		AgentVersion:  agentVersion,
		Exit:          opts.Exit,
	})

	registry := command.NewRegistry(command.Deps{
		DeviceID:      d.deviceID,
		DaemonVersion: opts.Version,
		AgentPackage:  agentPackage,
		DaemonPackage: daemonPackage,
		Store:         opts.Store,
		Local:         d.local,
		Gateway:       controller,
		Codec:         d.codec,
		Push:          d.engine.Push,
		AgentVersion:  agentVersion,
		Logger:        opts.Logger,
	})
	d.processor = command.NewProcessor(command.Config{
		DeviceID: d.deviceID,
		Store:    opts.Store,
		Registry: registry,
		Journal:  opts.Journal,
		Logger:   opts.Logger,
		Tracer:   opts.Tracer,
	})

	streamer := gateway.NewDynamicClient(func() (string, string) {
		return d.local.GatewayEndpoint(opts.Config.Gateway.Port)
	})
	d.relay = chat.NewRelay(chat.Config{
		DeviceID: d.deviceID,
		Model:    opts.Config.Gateway.Model,
		Store:    opts.Store,
		Streamer: streamer,
		Journal:  opts.Journal,
		Logger:   opts.Logger,
		Tracer:   opts.Tracer,
	})

	d.publisher = heartbeat.NewPublisher(heartbeat.Config{
		DeviceID:     d.deviceID,
		Store:        opts.Store,
		Local:        d.local,
		Guard:        d.guard,
		Logger:       opts.Logger,
		Interval:     opts.Config.Heartbeat.Interval,
		RefreshEvery: opts.Config.Heartbeat.DeviceRefreshEvery,
		AgentVersion: agentVersion,
	})

	return d, nil
}

// Run starts the daemon and blocks until a signal, a fatal component error,
// or ctx cancellation. A nil return means a graceful shutdown; the CLI maps
// errors to exit code 1.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = logging.WithDeviceID(ctx, d.deviceID)

	if err := d.opts.Session.Restore(ctx); err != nil {
		return fmt.Errorf("session restore: %w", err)
	}
	d.logger.InfoContext(ctx, "session restored", "email", d.opts.Session.Credentials().Email)

	if err := d.validateDevice(ctx); err != nil {
		return err
	}

	// Best effort: the gateway starts without secrets if this fails and
	// picks them up on the next env-bearing remote change.
	if err := d.loadEnvAndSecrets(ctx); err != nil {
		d.logger.WarnContext(ctx, "env load failed", "error", err)
	}

	d.guard.SeedFingerprint(d.local.ReadConfig())
	if err := d.engine.Push(ctx); err != nil {
		d.logger.WarnContext(ctx, "initial push failed", "error", err)
	}

	errCh := make(chan error, 4)
	start := func(name string, run func(context.Context) error) {
		go func() {
			if err := run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
				return
			}
			errCh <- nil
		}()
	}
	start("sync", d.engine.Run)
	start("commands", d.processor.Run)
	start("chats", d.relay.Run)
	start("heartbeat", d.publisher.Run)

	w, err := watcher.New(watcher.Config{DebounceDuration: d.opts.Config.Sync.WatchDebounce})
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer w.Close()
	if targets := d.local.WatchTargets(); len(targets) > 0 {
		if err := w.Watch(ctx, targets...); err != nil {
			d.logger.WarnContext(ctx, "file watch failed", "error", err)
		}
	}

	fullSync := time.NewTicker(d.opts.Config.Sync.FullSyncInterval)
	defer fullSync.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	d.logger.InfoContext(ctx, "daemon running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			d.logger.InfoContext(ctx, "shutting down", "signal", sig.String())
			d.shutdown()
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
		case ev := <-w.Events():
			d.logger.DebugContext(ctx, "local change", "path", ev.Path, "type", string(ev.Type))
			if err := d.engine.HandleLocalChange(ctx); err != nil {
				d.logger.WarnContext(ctx, "push after local change failed", "error", err)
			}
		case err := <-w.Errors():
			d.logger.WarnContext(ctx, "file watcher error", "error", err)
		case <-fullSync.C:
			if err := d.engine.Push(ctx); err != nil {
				d.logger.WarnContext(ctx, "full sync failed", "error", err)
			}
		}
	}
}

// validateDevice checks remote registration before starting. A missing
// document is fine; pairing will create it on the first push.
func (d *Daemon) validateDevice(ctx context.Context) error {
	doc, err := d.opts.Store.Get(ctx, device.DocPath(d.deviceID))
	if err != nil {
		if dmerrors.Is(err, dmerrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("validate device: %w", err)
	}
	if revoked, _ := doc.Data["revoked"].(bool); revoked {
		return dmerrors.ErrDeviceRevoked
	}

	fields := hostinfo.Collect().Map()
	fields["lastSeen"] = time.Now().UTC().Format(time.RFC3339)
	fields["status"] = string(device.StatusOnline)
	if err := d.opts.Store.Set(ctx, device.DocPath(d.deviceID), fields); err != nil {
		d.logger.WarnContext(ctx, "device presence write failed", "error", err)
	}
	return nil
}

// loadEnvAndSecrets merges account and device level environment variables
// (device wins), batch-decrypts the secret entries, and writes the agent's
// .env file. Called at startup and on env-bearing remote changes.
func (d *Daemon) loadEnvAndSecrets(ctx context.Context) error {
	uid := d.opts.Session.Credentials().UID

	accountEnv, accountSecrets := envFields(d.getDoc(ctx, "users/"+uid), "envVars", "secrets")
	deviceEnv, deviceSecrets := envFields(d.getDoc(ctx, device.DocPath(d.deviceID)), "deviceEnvVars", "deviceSecrets")

	envVars := make(map[string]string, len(accountEnv)+len(deviceEnv))
	for k, v := range accountEnv {
		envVars[k] = v
	}
	for k, v := range deviceEnv {
		envVars[k] = v
	}

	ciphertexts := make(map[string]string, len(accountSecrets)+len(deviceSecrets))
	collect := func(src map[string]interface{}) {
		for key, raw := range src {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if enc, _ := entry["encData"].(string); enc != "" {
				ciphertexts[key] = enc
			}
		}
	}
	collect(accountSecrets)
	collect(deviceSecrets)

	if len(ciphertexts) > 0 && d.codec != nil {
		values, err := d.codec.Decrypt(ctx, ciphertexts)
		if err != nil {
			d.logger.WarnContext(ctx, "secret decrypt failed", "error", err)
		} else {
			for key, value := range values {
				envVars[key] = decodeSecretValue(value)
			}
		}
	}

	if len(envVars) == 0 {
		return nil
	}
	if err := d.local.WriteEnvFile(envVars); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	d.logger.InfoContext(ctx, "env file updated", "vars", len(envVars))
	return nil
}

// shutdown marks the device offline, bounded so a dead store cannot stall
// process exit.
func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.engine.MarkOffline(ctx); err != nil {
		d.logger.Warn("offline mark failed", "error", err)
	}
}

// recordGatewayRestart notes the restart time on the device document.
func (d *Daemon) recordGatewayRestart(at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.guard.BeginSelfWrite(syncapp.SideRemote)
	defer d.guard.EndSelfWrite(syncapp.SideRemote)
	err := d.opts.Store.Set(ctx, device.DocPath(d.deviceID), map[string]interface{}{
		"lastGatewayRestart": at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		d.logger.Warn("gateway restart record failed", "error", err)
	}
}

// getDoc reads a document's data, returning nil when absent or failing.
func (d *Daemon) getDoc(ctx context.Context, path string) map[string]interface{} {
	doc, err := d.opts.Store.Get(ctx, path)
	if err != nil {
		return nil
	}
	return doc.Data
}

// envFields extracts the env var and secrets maps from a document.
func envFields(data map[string]interface{}, envKey, secretsKey string) (map[string]string, map[string]interface{}) {
	env := map[string]string{}
	if m, ok := data[envKey].(map[string]interface{}); ok {
		for k, v := range m {
			if s, ok := v.(string); ok {
				env[k] = s
			}
		}
	}
	secretsMap, _ := data[secretsKey].(map[string]interface{})
	return env, secretsMap
}

// decodeSecretValue unwraps a decrypted JSON scalar to its string form.
// Values encrypted from plain strings come back JSON-quoted.
func decodeSecretValue(value string) string {
	var s string
	if err := json.Unmarshal([]byte(value), &s); err == nil {
		return s
	}
	return value
}
