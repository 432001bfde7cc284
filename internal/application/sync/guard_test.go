package sync

import (
	"testing"
	"time"
)

func TestGuardSuppressedDuringSelfWrite(t *testing.T) {
	g := NewGuard(10*time.Millisecond, 10*time.Millisecond)

	if g.Suppressed(SideLocal) {
		t.Error("expected local side unsuppressed before any write")
	}
	g.BeginSelfWrite(SideLocal)
	if !g.Suppressed(SideLocal) {
		t.Error("expected local side suppressed during self-write")
	}
	if g.Suppressed(SideRemote) {
		t.Error("expected remote side unaffected by local self-write")
	}
	g.EndSelfWrite(SideLocal)
	if !g.Suppressed(SideLocal) {
		t.Error("expected quiet window after self-write ends")
	}
	time.Sleep(30 * time.Millisecond)
	if g.Suppressed(SideLocal) {
		t.Error("expected suppression released after quiet window")
	}
}

func TestGuardNestedSelfWrites(t *testing.T) {
	g := NewGuard(5*time.Millisecond, 5*time.Millisecond)

	g.BeginSelfWrite(SideRemote)
	g.BeginSelfWrite(SideRemote)
	g.EndSelfWrite(SideRemote)
	time.Sleep(20 * time.Millisecond)
	if !g.Suppressed(SideRemote) {
		t.Error("expected suppression held while an outer self-write is active")
	}
	g.EndSelfWrite(SideRemote)
	time.Sleep(20 * time.Millisecond)
	if g.Suppressed(SideRemote) {
		t.Error("expected suppression released after all self-writes end")
	}
}

func TestFingerprintStable(t *testing.T) {
	a := map[string]interface{}{"gateway": map[string]interface{}{"port": 8123.0}, "name": "pet"}
	b := map[string]interface{}{"name": "pet", "gateway": map[string]interface{}{"port": 8123.0}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("expected equal configs to fingerprint equal")
	}
	if Fingerprint(a) == Fingerprint(map[string]interface{}{"name": "other"}) {
		t.Error("expected different configs to fingerprint differently")
	}
	if Fingerprint(nil) != Fingerprint(map[string]interface{}{}) {
		t.Error("expected nil config to fingerprint as empty")
	}
}

func TestConfigChanged(t *testing.T) {
	g := NewGuard(0, 0)

	if g.ConfigChanged(map[string]interface{}{"v": 1.0}) {
		t.Error("first observation must not count as a change")
	}
	if g.ConfigChanged(map[string]interface{}{"v": 1.0}) {
		t.Error("identical config must not count as a change")
	}
	if !g.ConfigChanged(map[string]interface{}{"v": 2.0}) {
		t.Error("expected differing config to count as a change")
	}
}

func TestConfigChangedAfterSeed(t *testing.T) {
	g := NewGuard(0, 0)
	g.SeedFingerprint(map[string]interface{}{"v": 1.0})

	if g.ConfigChanged(map[string]interface{}{"v": 1.0}) {
		t.Error("seeded config must not count as a change")
	}
	if !g.ConfigChanged(map[string]interface{}{"v": 2.0}) {
		t.Error("expected change relative to seeded config")
	}
}
