// Package chat relays chat messages between the remote store and the local
// agent gateway. For every pending user message the relay streams one
// assistant response back, flushing partial content so the remote UI can
// render it as it grows.
package chat

import (
	"context"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	domchat "github.com/jbctechsolutions/petsync/internal/domain/chat"
	"github.com/jbctechsolutions/petsync/internal/domain/device"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/tracing"
)

const (
	defaultFlushInterval = 500 * time.Millisecond
	defaultFlushChars    = 200
)

// Config carries the collaborators of a Relay.
type Config struct {
	DeviceID string
	Model    string

	Store    ports.DocumentStore
	Streamer ports.CompletionStreamer

	Journal ports.ActivityJournal
	Logger  *logging.Logger
	Tracer  *tracing.Tracer

	// FlushInterval and FlushChars bound how stale the partial assistant
	// content may get during streaming. A flush happens when either bound
	// is crossed.
	FlushInterval time.Duration
	FlushChars    int
}

// Relay manages one message subscription per chat thread and answers
// pending user messages through the gateway.
type Relay struct {
	cfg    Config
	logger *logging.Logger
	tracer *tracing.Tracer

	mu      stdsync.Mutex
	threads map[string]context.CancelFunc
	wg      stdsync.WaitGroup
}

// NewRelay builds a relay. DeviceID, Store, and Streamer are required.
func NewRelay(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.FlushChars <= 0 {
		cfg.FlushChars = defaultFlushChars
	}
	return &Relay{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "chat"),
		tracer:  cfg.Tracer,
		threads: make(map[string]context.CancelFunc),
	}
}

// Run subscribes to the chat collection and maintains one message
// subscription per live thread until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ctx = logging.WithDeviceID(ctx, r.cfg.DeviceID)
	ch, err := r.cfg.Store.WatchQuery(ctx, device.ChatsPath(r.cfg.DeviceID), ports.Query{})
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "watching chat threads")
	defer r.stopAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-ch:
			if !ok {
				return nil
			}
			for _, change := range batch {
				switch change.Kind {
				case ports.ChangeRemoved:
					r.stopThread(change.Doc.ID)
				default:
					r.startThread(ctx, change.Doc.ID)
				}
			}
		}
	}
}

// startThread begins watching a thread's pending user messages. Already
// watched threads are left alone.
func (r *Relay) startThread(ctx context.Context, chatID string) {
	r.mu.Lock()
	if _, ok := r.threads[chatID]; ok {
		r.mu.Unlock()
		return
	}
	threadCtx, cancel := context.WithCancel(ctx)
	r.threads[chatID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if err := r.watchThread(threadCtx, chatID); err != nil && threadCtx.Err() == nil {
			r.logger.ErrorContext(threadCtx, "thread watch failed", "chat_id", chatID, "error", err)
		}
	}()
}

func (r *Relay) stopThread(chatID string) {
	r.mu.Lock()
	cancel, ok := r.threads[chatID]
	if ok {
		delete(r.threads, chatID)
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *Relay) stopAll() {
	r.mu.Lock()
	for id, cancel := range r.threads {
		delete(r.threads, id)
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// watchThread answers pending user messages of one thread, one at a time.
func (r *Relay) watchThread(ctx context.Context, chatID string) error {
	ctx = logging.WithChatID(ctx, chatID)
	q := ports.Query{
		Filters: []ports.Filter{
			{Field: "role", Op: "==", Value: string(domchat.RoleUser)},
			{Field: "status", Op: "==", Value: string(domchat.StatusPending)},
		},
	}
	ch, err := r.cfg.Store.WatchQuery(ctx, device.MessagesPath(r.cfg.DeviceID, chatID), q)
	if err != nil {
		return err
	}
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
				r.respond(ctx, chatID, change.Doc)
			}
		}
	}
}

// respond runs one generation for a pending user message.
func (r *Relay) respond(ctx context.Context, chatID string, doc ports.Document) {
	started := time.Now()
	msg, err := domchat.DecodeMessage(doc.ID, doc.Data)
	if err != nil {
		r.logger.WarnContext(ctx, "malformed message document", "message_id", doc.ID, "error", err)
		return
	}
	ctx, span := r.tracer.StartChatSpan(ctx, chatID, msg.ID)
	defer span.End()
	r.logger.InfoContext(ctx, "user message received", "message_id", msg.ID, "preview", preview(msg.Content))

	if err := r.cfg.Store.Set(ctx, device.MessagePath(r.cfg.DeviceID, chatID, msg.ID), map[string]interface{}{
		"status": string(domchat.StatusSent),
	}); err != nil {
		r.logger.ErrorContext(ctx, "message accept failed", "error", err)
		span.EndWithError(err)
		return
	}

	placeholder := domchat.NewAssistantPlaceholder(time.Now())
	assistantID, err := r.cfg.Store.Add(ctx, device.MessagesPath(r.cfg.DeviceID, chatID), placeholder.Fields())
	if err != nil {
		r.logger.ErrorContext(ctx, "assistant placeholder create failed", "error", err)
		span.EndWithError(err)
		return
	}
	assistantPath := device.MessagePath(r.cfg.DeviceID, chatID, assistantID)

	content, genErr := r.generate(ctx, chatID, assistantPath)
	completedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if genErr != nil {
		r.logger.ErrorContext(ctx, "generation failed", "error", genErr)
		r.finish(ctx, assistantPath, map[string]interface{}{
			"content":     fmt.Sprintf("response failed: %v", genErr),
			"status":      string(domchat.StatusError),
			"completedAt": completedAt,
		})
		r.record(ctx, chatID, "error", genErr.Error(), started)
		span.EndWithError(genErr)
		return
	}

	r.finish(ctx, assistantPath, map[string]interface{}{
		"content":     content,
		"status":      string(domchat.StatusDone),
		"completedAt": completedAt,
	})
	span.SetContentLength(len(content))
	r.record(ctx, chatID, "ok", "", started)
	r.logger.InfoContext(ctx, "response complete", "length", len(content))
}

// generate streams the completion for the thread's history into the
// assistant document, flushing partials, and returns the full content.
func (r *Relay) generate(ctx context.Context, chatID, assistantPath string) (string, error) {
	history, err := r.loadHistory(ctx, chatID)
	if err != nil {
		return "", err
	}

	var full strings.Builder
	lastFlush := time.Now()
	err = r.cfg.Streamer.Stream(ctx, ports.CompletionRequest{
		Model:    r.cfg.Model,
		Messages: history,
		User:     "petsync-chat-" + chatID,
	}, func(delta string) error {
		full.WriteString(delta)
		now := time.Now()
		// Flush on the interval, or whenever the running length crosses a
		// FlushChars boundary.
		if now.Sub(lastFlush) > r.cfg.FlushInterval || full.Len()%r.cfg.FlushChars < len(delta) {
			if err := r.cfg.Store.Set(ctx, assistantPath, map[string]interface{}{
				"content": full.String(),
			}); err != nil {
				r.logger.WarnContext(ctx, "partial flush failed", "error", err)
			}
			lastFlush = now
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}

// loadHistory reads the thread's settled messages in chronological order.
func (r *Relay) loadHistory(ctx context.Context, chatID string) ([]domchat.Turn, error) {
	docs, err := r.cfg.Store.Query(ctx, device.MessagesPath(r.cfg.DeviceID, chatID), ports.Query{
		Filters: []ports.Filter{
			{Field: "status", Op: "in", Value: []interface{}{
				string(domchat.StatusSent), string(domchat.StatusDone),
			}},
		},
		OrderBy:   "createdAt",
		Ascending: true,
	})
	if err != nil {
		return nil, err
	}
	messages := make([]*domchat.Message, 0, len(docs))
	for _, d := range docs {
		m, err := domchat.DecodeMessage(d.ID, d.Data)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping malformed history message", "message_id", d.ID, "error", err)
			continue
		}
		messages = append(messages, m)
	}
	return domchat.HistoryTurns(messages), nil
}

func (r *Relay) finish(ctx context.Context, path string, fields map[string]interface{}) {
	if err := r.cfg.Store.Set(ctx, path, fields); err != nil {
		r.logger.ErrorContext(ctx, "terminal message write failed", "error", err)
	}
}

func (r *Relay) record(ctx context.Context, chatID, status, detail string, started time.Time) {
	if r.cfg.Journal == nil {
		return
	}
	rec := &ports.ActivityRecord{
		ID:          uuid.New().String(),
		Kind:        ports.ActivityChat,
		Ref:         chatID,
		Status:      status,
		Detail:      detail,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if err := r.cfg.Journal.Record(ctx, rec); err != nil {
		r.logger.DebugContext(ctx, "journal write failed", "error", err)
	}
}

func preview(s string) string {
	if len(s) > 50 {
		return s[:50] + "..."
	}
	return s
}
