package sync

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	"github.com/jbctechsolutions/petsync/internal/domain/device"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/hostinfo"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/localstate"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/tracing"
)

// encryptedConfigKey names the config ciphertext in decrypt batches.
const encryptedConfigKey = "config"

// Config carries the collaborators and identity of a sync engine.
type Config struct {
	DeviceID      string
	DaemonVersion string

	Store   ports.DocumentStore
	Local   *localstate.Store
	Gateway ports.GatewayController

	// Codec is optional. Without it the engine cannot resolve encrypted
	// remote configs and pushes the local config in the clear.
	Codec ports.SecretCodec

	// Journal is optional local observability.
	Journal ports.ActivityJournal

	Guard  *Guard
	Logger *logging.Logger
	Tracer *tracing.Tracer

	// ReloadEnv refreshes process environment from the device document's
	// env vars and secrets before a gateway restart. Optional.
	ReloadEnv func(ctx context.Context) error

	// AgentVersion probes the installed agent version, returning "" when
	// unknown. Optional.
	AgentVersion func() string

	// Exit terminates the process when the device is revoked. Defaults to
	// os.Exit.
	Exit func(code int)
}

// Engine reconciles local agent state with the remote device document in
// both directions.
type Engine struct {
	cfg       Config
	guard     *Guard
	logger    *logging.Logger
	tracer    *tracing.Tracer
	exit      func(code int)
	startedAt time.Time
}

// NewEngine builds an engine. Store, Local, and Gateway are required.
func NewEngine(cfg Config) *Engine {
	if cfg.Guard == nil {
		cfg.Guard = NewGuard(DefaultLocalQuiet, DefaultRemoteQuiet)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Default()
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	return &Engine{
		cfg:       cfg,
		guard:     cfg.Guard,
		logger:    cfg.Logger.With("component", "sync"),
		tracer:    cfg.Tracer,
		exit:      cfg.Exit,
		startedAt: time.Now(),
	}
}

// Guard exposes the engine's echo guard so the daemon can share it with the
// heartbeat publisher.
func (e *Engine) Guard() *Guard {
	return e.guard
}

// Run subscribes to the device document and applies every remote change
// until ctx is cancelled or the subscription closes.
func (e *Engine) Run(ctx context.Context) error {
	ctx = logging.WithDeviceID(ctx, e.cfg.DeviceID)
	ch, err := e.cfg.Store.Watch(ctx, device.DocPath(e.cfg.DeviceID))
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "watching device document")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-ch:
			if !ok {
				return nil
			}
			for _, change := range batch {
				if change.Kind == ports.ChangeRemoved {
					continue
				}
				e.applyRemote(ctx, change.Doc.Data)
			}
		}
	}
}

// applyRemote applies one remote snapshot of the device document to disk.
func (e *Engine) applyRemote(ctx context.Context, data map[string]interface{}) {
	if e.guard.Suppressed(SideRemote) {
		e.logger.DebugContext(ctx, "remote change suppressed as self-write echo")
		return
	}
	started := time.Now()
	ctx, span := e.tracer.StartSyncSpan(ctx, "pull", e.cfg.DeviceID)
	defer span.End()

	doc, err := device.DecodeDocument(data)
	if err != nil {
		e.logger.WarnContext(ctx, "malformed device document, skipping cycle", "error", err)
		span.EndWithError(err)
		return
	}

	if doc.Revoked {
		e.logger.WarnContext(ctx, "device revoked remotely, shutting down")
		e.record(ctx, ports.ActivitySyncPull, "ok", "device revoked", started)
		e.exit(0)
		return
	}

	cfg, cfgOK := e.resolveConfig(ctx, doc)
	changed := false
	if cfgOK {
		changed = e.guard.ConfigChanged(cfg)
	}
	span.SetChanged(changed)

	files := doc.AgentFiles
	workspace := doc.Workspace
	span.SetFileCount(len(files) + len(workspace))

	e.guard.BeginSelfWrite(SideLocal)
	if cfgOK {
		if err := e.cfg.Local.WriteConfig(cfg); err != nil {
			e.logger.ErrorContext(ctx, "write config failed", "error", err)
		}
	}
	if len(files) > 0 {
		if err := e.cfg.Local.WriteConfigDir(files); err != nil {
			e.logger.ErrorContext(ctx, "write agent files failed", "error", err)
		}
	}
	if len(workspace) > 0 {
		if err := e.cfg.Local.WriteWorkspace(workspace); err != nil {
			e.logger.ErrorContext(ctx, "write workspace failed", "error", err)
		}
	}
	e.guard.EndSelfWrite(SideLocal)

	envChange := doc.HasEnvChange()
	if changed || envChange {
		// Secrets feed the gateway's environment, so the reload has to land
		// before the restart picks it up.
		if e.cfg.ReloadEnv != nil {
			if err := e.cfg.ReloadEnv(ctx); err != nil {
				e.logger.ErrorContext(ctx, "env reload failed", "error", err)
			}
		}
		e.restartGateway(ctx)
	}

	e.record(ctx, ports.ActivitySyncPull, "ok", "", started)
	e.logger.InfoContext(ctx, "applied remote change", "config_changed", changed, "env_changed", envChange)
}

// resolveConfig extracts the config map from a device document, decrypting
// when needed. The second result is false when no usable config is present;
// the caller then skips the config write but still applies the other files.
func (e *Engine) resolveConfig(ctx context.Context, doc *device.Document) (map[string]interface{}, bool) {
	if doc.EncryptedConfig != "" {
		if e.cfg.Codec == nil {
			e.logger.WarnContext(ctx, "encrypted config present but no codec configured")
			return nil, false
		}
		values, err := e.cfg.Codec.Decrypt(ctx, map[string]string{encryptedConfigKey: doc.EncryptedConfig})
		if err != nil {
			e.logger.WarnContext(ctx, "config decrypt failed, keeping local config", "error", err)
			return nil, false
		}
		plain, ok := values[encryptedConfigKey]
		if !ok {
			e.logger.WarnContext(ctx, "config ciphertext not decryptable, keeping local config")
			return nil, false
		}
		cfg, err := decodeConfig(plain)
		if err != nil {
			e.logger.WarnContext(ctx, "decrypted config is not valid JSON", "error", err)
			return nil, false
		}
		return cfg, true
	}
	if doc.Config != nil {
		return doc.Config, true
	}
	return nil, false
}

// Push publishes local state to the remote device document. Skipped while
// the remote side is suppressed, which covers echoes of our own pushes.
func (e *Engine) Push(ctx context.Context) error {
	if e.guard.Suppressed(SideRemote) {
		e.logger.DebugContext(ctx, "push skipped, remote side suppressed")
		return nil
	}
	ctx = logging.WithDeviceID(ctx, e.cfg.DeviceID)
	started := time.Now()
	ctx, span := e.tracer.StartSyncSpan(ctx, "push", e.cfg.DeviceID)
	defer span.End()

	e.guard.BeginSelfWrite(SideRemote)
	defer e.guard.EndSelfWrite(SideRemote)

	fields := hostinfo.Collect().Map()
	fields["daemonVersion"] = e.cfg.DaemonVersion
	fields["uptime"] = int64(time.Since(e.startedAt).Seconds())
	fields["lastSeen"] = started.UTC().Format(time.RFC3339)
	fields["status"] = string(device.StatusOnline)

	hasAgent := e.cfg.Local.Paths().AgentInstalled()
	fields["hasAgent"] = hasAgent
	if hasAgent {
		fields["agentPath"] = e.cfg.Local.Paths().AgentHome
	}
	if e.cfg.AgentVersion != nil {
		if v := e.cfg.AgentVersion(); v != "" {
			fields["agentVersion"] = v
		}
	}

	cfg := e.cfg.Local.ReadConfig()
	if files, err := e.cfg.Local.ReadConfigDir(); err == nil && len(files) > 0 {
		fields["agentFiles"] = files
		span.SetFileCount(len(files))
	}
	if workspace := e.cfg.Local.ReadWorkspace(); len(workspace) > 0 {
		fields["workspace"] = workspace
	}
	if skills, ok := cfg["skills"].(map[string]interface{}); ok && len(skills) > 0 {
		fields["skills"] = device.MaskSecrets(skills)
	}

	if enc := e.encryptConfig(ctx, cfg); enc != "" {
		fields["encryptedConfig"] = enc
		fields["config"] = nil
	} else {
		fields["config"] = cfg
	}

	if err := e.cfg.Store.Set(ctx, device.DocPath(e.cfg.DeviceID), fields); err != nil {
		span.EndWithError(err)
		e.record(ctx, ports.ActivitySyncPush, "error", err.Error(), started)
		return err
	}
	hb := device.Heartbeat{LastSeen: started, Status: device.StatusOnline}
	if err := e.cfg.Store.Set(ctx, device.HeartbeatPath(e.cfg.DeviceID), hb.Fields()); err != nil {
		e.logger.WarnContext(ctx, "heartbeat write failed", "error", err)
	}

	e.record(ctx, ports.ActivitySyncPush, "ok", "", started)
	e.logger.InfoContext(ctx, "pushed local state", "has_agent", hasAgent)
	return nil
}

// HandleLocalChange pushes after a filesystem event unless the event is an
// echo of a remote apply.
func (e *Engine) HandleLocalChange(ctx context.Context) error {
	if e.guard.Suppressed(SideLocal) {
		e.logger.DebugContext(ctx, "local change suppressed as self-write echo")
		return nil
	}
	return e.Push(ctx)
}

// MarkOffline records the device as offline. Used during shutdown and
// tolerant of failure, since the process is about to exit either way.
func (e *Engine) MarkOffline(ctx context.Context) error {
	e.guard.BeginSelfWrite(SideRemote)
	defer e.guard.EndSelfWrite(SideRemote)

	now := time.Now()
	fields := map[string]interface{}{
		"status":   string(device.StatusOffline),
		"lastSeen": now.UTC().Format(time.RFC3339),
	}
	if err := e.cfg.Store.Set(ctx, device.DocPath(e.cfg.DeviceID), fields); err != nil {
		return err
	}
	hb := device.Heartbeat{LastSeen: now, Status: device.StatusOffline}
	return e.cfg.Store.Set(ctx, device.HeartbeatPath(e.cfg.DeviceID), hb.Fields())
}

// encryptConfig returns the ciphertext of cfg, or "" when encryption is
// unavailable or failed and the config must go out in the clear. The decrypt
// side carries string plaintexts only, so the config crosses the service as
// its JSON text; the pull path parses it back (decodeConfig).
func (e *Engine) encryptConfig(ctx context.Context, cfg map[string]interface{}) string {
	if e.cfg.Codec == nil || len(cfg) == 0 {
		return ""
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		e.logger.WarnContext(ctx, "config not serializable, pushing in the clear", "error", err)
		return ""
	}
	enc, err := e.cfg.Codec.Encrypt(ctx, string(raw))
	if err != nil {
		e.logger.WarnContext(ctx, "config encrypt failed, pushing in the clear", "error", err)
		return ""
	}
	return enc
}

// restartGateway restarts the local gateway and logs failures without
// escalating them. The next substantive change retries.
func (e *Engine) restartGateway(ctx context.Context) {
	if err := e.cfg.Gateway.Restart(ctx); err != nil {
		e.logger.ErrorContext(ctx, "gateway restart failed", "error", err)
	}
}

func (e *Engine) record(ctx context.Context, kind ports.ActivityKind, status, detail string, started time.Time) {
	if e.cfg.Journal == nil {
		return
	}
	rec := &ports.ActivityRecord{
		ID:          uuid.New().String(),
		Kind:        kind,
		Status:      status,
		Detail:      detail,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if err := e.cfg.Journal.Record(ctx, rec); err != nil {
		e.logger.DebugContext(ctx, "journal write failed", "error", err)
	}
}

// decodeConfig parses a decrypted config payload.
func decodeConfig(plain string) (map[string]interface{}, error) {
	var cfg map[string]interface{}
	if err := json.Unmarshal([]byte(plain), &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
