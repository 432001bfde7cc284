// Package command executes remotely issued device commands. The processor
// watches the pending commands of this device and drives each one through
// the pending -> running -> done/error state machine, writing terminal
// states exactly once.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	"github.com/jbctechsolutions/petsync/internal/domain/device"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/tracing"
)

// Handler executes one command and returns a structured result merged onto
// the command document. Handlers must be idempotent: a crash between the
// running and terminal writes may replay the command on restart.
type Handler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// Registry maps action names to handlers. Closed at construction time.
type Registry map[string]Handler

// Config carries the collaborators of a Processor.
type Config struct {
	DeviceID string
	Store    ports.DocumentStore
	Registry Registry

	Journal ports.ActivityJournal
	Logger  *logging.Logger
	Tracer  *tracing.Tracer
}

// Processor consumes pending commands from the remote store.
type Processor struct {
	cfg    Config
	logger *logging.Logger
	tracer *tracing.Tracer
}

// NewProcessor builds a processor. DeviceID, Store, and Registry are
// required.
func NewProcessor(cfg Config) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Default()
	}
	return &Processor{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "command"),
		tracer: cfg.Tracer,
	}
}

// Run subscribes to pending commands and executes them until ctx is
// cancelled or the subscription closes. Only added changes are acted on;
// a command mutating within the query never re-executes.
func (p *Processor) Run(ctx context.Context) error {
	ctx = logging.WithDeviceID(ctx, p.cfg.DeviceID)
	q := ports.Query{
		Filters: []ports.Filter{{Field: "status", Op: "==", Value: string(device.CommandPending)}},
	}
	ch, err := p.cfg.Store.WatchQuery(ctx, device.CommandsPath(p.cfg.DeviceID), q)
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "watching pending commands")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-ch:
			if !ok {
				return nil
			}
			for _, change := range batch {
				if change.Kind != ports.ChangeAdded {
					continue
				}
				p.execute(ctx, change.Doc)
			}
		}
	}
}

// execute runs a single command document through its lifecycle.
func (p *Processor) execute(ctx context.Context, doc ports.Document) {
	started := time.Now()
	cmd, err := device.DecodeCommand(doc.ID, doc.Data)
	if err != nil {
		p.logger.WarnContext(ctx, "malformed command document", "id", doc.ID, "error", err)
		p.writeTerminal(ctx, doc.ID, device.CommandError, nil, err.Error())
		return
	}

	// Store redelivery can replay a document that already progressed; the
	// state machine gates re-execution.
	if !cmd.Status.CanTransition(device.CommandRunning) {
		p.logger.DebugContext(ctx, "command already progressed, skipping",
			"id", cmd.ID, "status", string(cmd.Status))
		return
	}

	ctx = logging.WithCommandID(ctx, cmd.ID)
	ctx = logging.WithAction(ctx, cmd.Action)
	ctx, span := p.tracer.StartCommandSpan(ctx, cmd.ID, cmd.Action)
	p.logger.InfoContext(ctx, "command received")

	handler, ok := p.cfg.Registry[cmd.Action]
	if !ok {
		msg := fmt.Sprintf("unknown command: %s", cmd.Action)
		p.writeTerminal(ctx, cmd.ID, device.CommandError, nil, msg)
		p.record(ctx, cmd.Action, "error", msg, started)
		span.EndWithError(fmt.Errorf("%s", msg))
		p.logger.WarnContext(ctx, "command rejected", "reason", "unknown action")
		return
	}

	if err := p.update(ctx, cmd.ID, map[string]interface{}{
		"status": string(device.CommandRunning),
	}); err != nil {
		p.logger.ErrorContext(ctx, "command status write failed", "error", err)
		span.EndWithError(err)
		return
	}

	result, err := handler(ctx, cmd.Params)
	if err != nil {
		p.writeTerminal(ctx, cmd.ID, device.CommandError, nil, err.Error())
		p.record(ctx, cmd.Action, "error", err.Error(), started)
		span.EndWithError(err)
		p.logger.ErrorContext(ctx, "command failed", "error", err)
		return
	}
	if result == nil {
		result = map[string]interface{}{}
	}
	p.writeTerminal(ctx, cmd.ID, device.CommandDone, result, "")
	p.record(ctx, cmd.Action, "ok", "", started)
	span.End()
	p.logger.InfoContext(ctx, "command done", "duration", time.Since(started).String())
}

// writeTerminal merges a terminal state onto the command document.
func (p *Processor) writeTerminal(ctx context.Context, id string, status device.CommandStatus, result map[string]interface{}, errMsg string) {
	fields := map[string]interface{}{
		"status":      string(status),
		"completedAt": time.Now().UTC().Format(time.RFC3339),
	}
	if status == device.CommandDone {
		fields["result"] = result
	} else {
		fields["error"] = errMsg
	}
	if err := p.update(ctx, id, fields); err != nil {
		p.logger.ErrorContext(ctx, "command terminal write failed", "error", err)
	}
}

func (p *Processor) update(ctx context.Context, id string, fields map[string]interface{}) error {
	return p.cfg.Store.Set(ctx, device.CommandPath(p.cfg.DeviceID, id), fields)
}

func (p *Processor) record(ctx context.Context, action, status, detail string, started time.Time) {
	if p.cfg.Journal == nil {
		return
	}
	rec := &ports.ActivityRecord{
		ID:          uuid.New().String(),
		Kind:        ports.ActivityCommand,
		Ref:         action,
		Status:      status,
		Detail:      detail,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if err := p.cfg.Journal.Record(ctx, rec); err != nil {
		p.logger.DebugContext(ctx, "journal write failed", "error", err)
	}
}
