// Package sync implements the bidirectional reconciler between local agent
// state and the remote device document. The engine pulls remote changes onto
// disk and pushes local changes to the store; the guard breaks the feedback
// loop between the two directions.
package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// Side identifies which watcher a self-write would wake.
type Side int

const (
	// SideLocal covers filesystem writes performed while applying a remote
	// change. The filesystem watcher must ignore them.
	SideLocal Side = iota

	// SideRemote covers store writes performed while pushing local state.
	// The document subscription must ignore the resulting echo.
	SideRemote
)

// Quiet windows held after a self-write completes. Watcher debounce and
// subscription delivery both lag the write itself, so the suppression has to
// outlive it.
const (
	DefaultLocalQuiet  = 500 * time.Millisecond
	DefaultRemoteQuiet = time.Second
)

// Guard tracks in-flight self-writes per side and the fingerprint of the
// last config applied from remote. A side is suppressed while a self-write
// is in progress and for a quiet window after it ends.
type Guard struct {
	mu       sync.Mutex
	quiet    [2]time.Duration
	active   [2]int
	until    [2]time.Time
	lastHash string
	now      func() time.Time
}

// NewGuard returns a guard with the given quiet windows. Zero or negative
// durations fall back to the defaults.
func NewGuard(localQuiet, remoteQuiet time.Duration) *Guard {
	if localQuiet <= 0 {
		localQuiet = DefaultLocalQuiet
	}
	if remoteQuiet <= 0 {
		remoteQuiet = DefaultRemoteQuiet
	}
	return &Guard{
		quiet: [2]time.Duration{SideLocal: localQuiet, SideRemote: remoteQuiet},
		now:   time.Now,
	}
}

// BeginSelfWrite marks the start of a self-write on side. Every call must be
// paired with EndSelfWrite.
func (g *Guard) BeginSelfWrite(side Side) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[side]++
}

// EndSelfWrite marks the end of a self-write and starts the quiet window.
func (g *Guard) EndSelfWrite(side Side) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[side] > 0 {
		g.active[side]--
	}
	g.until[side] = g.now().Add(g.quiet[side])
}

// Suppressed reports whether events on side should be ignored as echoes of
// our own writes.
func (g *Guard) Suppressed(side Side) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[side] > 0 || g.now().Before(g.until[side])
}

// Fingerprint returns a stable hash of a config document. Map keys are
// sorted by the JSON encoder, so equal configs hash equal regardless of
// iteration order.
func Fingerprint(cfg map[string]interface{}) string {
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SeedFingerprint records cfg as the current known config without reporting
// a change. Called once at startup with the on-disk config so the first
// remote snapshot does not trigger a spurious gateway restart.
func (g *Guard) SeedFingerprint(cfg map[string]interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastHash = Fingerprint(cfg)
}

// ConfigChanged records cfg as the current config and reports whether it
// differs from the previous one. The first observation never counts as a
// change.
func (g *Guard) ConfigChanged(cfg map[string]interface{}) bool {
	h := Fingerprint(cfg)
	g.mu.Lock()
	defer g.mu.Unlock()
	changed := g.lastHash != "" && h != g.lastHash
	g.lastHash = h
	return changed
}
