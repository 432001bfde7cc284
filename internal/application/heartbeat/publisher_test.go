package heartbeat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jbctechsolutions/petsync/internal/adapters/store/memory"
	syncapp "github.com/jbctechsolutions/petsync/internal/application/sync"
	"github.com/jbctechsolutions/petsync/internal/domain/device"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/localstate"
)

const testDeviceID = "pet_hb00000000001"

func testLocalStore(t *testing.T) *localstate.Store {
	t.Helper()
	home := t.TempDir()
	agent := filepath.Join(home, "agent-home")
	return localstate.NewStore(&config.Paths{
		Home:            filepath.Join(home, ".petsync"),
		CredentialsFile: filepath.Join(home, ".petsync", "petsync.json"),
		JournalFile:     filepath.Join(home, ".petsync", "petsync.db"),
		AgentHome:       agent,
		AgentConfigFile: filepath.Join(agent, "agent.json"),
		AgentConfigDir:  filepath.Join(agent, "agent"),
		WorkspaceDir:    filepath.Join(agent, "workspace"),
		EnvFile:         filepath.Join(agent, ".env"),
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPublisherWritesHeartbeat(t *testing.T) {
	store := memory.New()
	defer store.Close()

	p := NewPublisher(Config{
		DeviceID: testDeviceID,
		Store:    store,
		Local:    testLocalStore(t),
		Guard:    syncapp.NewGuard(time.Millisecond, time.Millisecond),
		Interval: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, "heartbeat subdoc", func() bool {
		doc, err := store.Get(context.Background(), device.HeartbeatPath(testDeviceID))
		return err == nil && doc.Data["status"] == "online" && doc.Data["lastSeen"] != nil
	})
}

func TestPublisherRefreshesPresenceEveryFifthTick(t *testing.T) {
	store := memory.New()
	defer store.Close()
	local := testLocalStore(t)
	if err := local.WriteConfig(map[string]interface{}{"name": "pet"}); err != nil {
		t.Fatal(err)
	}

	p := NewPublisher(Config{
		DeviceID:     testDeviceID,
		Store:        store,
		Local:        local,
		Guard:        syncapp.NewGuard(time.Millisecond, time.Millisecond),
		Interval:     5 * time.Millisecond,
		AgentVersion: func() string { return "3.1.4" },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, "presence refresh", func() bool {
		doc, err := store.Get(context.Background(), device.DocPath(testDeviceID))
		return err == nil && doc.Data["hasAgent"] == true
	})

	doc, _ := store.Get(context.Background(), device.DocPath(testDeviceID))
	if doc.Data["agentVersion"] != "3.1.4" {
		t.Errorf("agentVersion = %v", doc.Data["agentVersion"])
	}
	if doc.Data["agentPath"] == nil {
		t.Error("agentPath not set")
	}
	if doc.Data["status"] != "online" {
		t.Errorf("status = %v", doc.Data["status"])
	}
}
