// Package heartbeat publishes periodic liveness updates to the remote
// store. The frequent writes go to the runtime heartbeat sub-document;
// presence fields on the main document are refreshed on a slower cadence so
// the pull subscription stays quiet.
package heartbeat

import (
	"context"
	"time"

	syncapp "github.com/jbctechsolutions/petsync/internal/application/sync"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	"github.com/jbctechsolutions/petsync/internal/domain/device"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/localstate"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/logging"
)

const (
	// DefaultInterval is the heartbeat cadence.
	DefaultInterval = time.Minute

	// DefaultRefreshEvery is how many heartbeat ticks pass between
	// refreshes of the main document's presence fields.
	DefaultRefreshEvery = 5
)

// Config carries the collaborators of a Publisher.
type Config struct {
	DeviceID string
	Store    ports.DocumentStore
	Local    *localstate.Store
	Guard    *syncapp.Guard
	Logger   *logging.Logger

	// Interval overrides the heartbeat cadence. Zero means DefaultInterval.
	Interval time.Duration

	// RefreshEvery overrides the presence refresh cadence in ticks. Zero
	// means DefaultRefreshEvery.
	RefreshEvery int

	// AgentVersion probes the installed agent version, "" when unknown.
	// Optional.
	AgentVersion func() string
}

// Publisher writes heartbeats until its context ends.
type Publisher struct {
	cfg    Config
	logger *logging.Logger
}

// NewPublisher builds a publisher. DeviceID, Store, Local, and Guard are
// required.
func NewPublisher(cfg Config) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = DefaultRefreshEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Publisher{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "heartbeat"),
	}
}

// Run ticks until ctx is cancelled. Every tick writes the heartbeat
// sub-document; every fifth tick also re-detects the agent installation and
// refreshes presence on the main document.
func (p *Publisher) Run(ctx context.Context) error {
	ctx = logging.WithDeviceID(ctx, p.cfg.DeviceID)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	p.logger.InfoContext(ctx, "heartbeat started", "interval", p.cfg.Interval.String())

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick++
			p.beat(ctx)
			if tick%p.cfg.RefreshEvery == 0 {
				p.refreshPresence(ctx)
			}
		}
	}
}

func (p *Publisher) beat(ctx context.Context) {
	hb := device.Heartbeat{LastSeen: time.Now(), Status: device.StatusOnline}
	if err := p.cfg.Store.Set(ctx, device.HeartbeatPath(p.cfg.DeviceID), hb.Fields()); err != nil {
		p.logger.WarnContext(ctx, "heartbeat write failed", "error", err)
	}
}

// refreshPresence re-detects the agent installation and merge-writes the
// presence fields. Guarded so the pull subscription skips the echo.
func (p *Publisher) refreshPresence(ctx context.Context) {
	p.cfg.Guard.BeginSelfWrite(syncapp.SideRemote)
	defer p.cfg.Guard.EndSelfWrite(syncapp.SideRemote)

	paths := p.cfg.Local.Paths()
	hasAgent := paths.AgentInstalled()
	fields := map[string]interface{}{
		"lastSeen": time.Now().UTC().Format(time.RFC3339),
		"status":   string(device.StatusOnline),
		"hasAgent": hasAgent,
	}
	if hasAgent {
		fields["agentPath"] = paths.AgentHome
	} else {
		fields["agentPath"] = nil
	}
	if p.cfg.AgentVersion != nil {
		if v := p.cfg.AgentVersion(); v != "" {
			fields["agentVersion"] = v
		}
	}
	if err := p.cfg.Store.Set(ctx, device.DocPath(p.cfg.DeviceID), fields); err != nil {
		p.logger.WarnContext(ctx, "presence refresh failed", "error", err)
	}
}
