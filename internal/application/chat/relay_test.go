package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jbctechsolutions/petsync/internal/adapters/store/memory"
	"github.com/jbctechsolutions/petsync/internal/application/ports"
	domchat "github.com/jbctechsolutions/petsync/internal/domain/chat"
	"github.com/jbctechsolutions/petsync/internal/domain/device"
)

const testDeviceID = "pet_chat000000001"

type fakeStreamer struct {
	fn func(ctx context.Context, req ports.CompletionRequest, deliver func(delta string) error) error
}

func (f *fakeStreamer) Stream(ctx context.Context, req ports.CompletionRequest, deliver func(delta string) error) error {
	return f.fn(ctx, req, deliver)
}

func chunkStreamer(chunks ...string) *fakeStreamer {
	return &fakeStreamer{fn: func(ctx context.Context, req ports.CompletionRequest, deliver func(delta string) error) error {
		for _, c := range chunks {
			if err := deliver(c); err != nil {
				return err
			}
		}
		return nil
	}}
}

func startRelay(t *testing.T, store *memory.Store, streamer ports.CompletionStreamer, mutate func(*Config)) {
	t.Helper()
	cfg := Config{
		DeviceID: testDeviceID,
		Model:    "petagent",
		Store:    store,
		Streamer: streamer,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go NewRelay(cfg).Run(ctx)
}

func addChat(t *testing.T, store *memory.Store, chatID string) {
	t.Helper()
	err := store.Set(context.Background(), device.ChatsPath(testDeviceID)+"/"+chatID, map[string]interface{}{
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func addUserMessage(t *testing.T, store *memory.Store, chatID, id, content string) {
	t.Helper()
	err := store.Set(context.Background(), device.MessagePath(testDeviceID, chatID, id), map[string]interface{}{
		"role":      string(domchat.RoleUser),
		"content":   content,
		"status":    string(domchat.StatusPending),
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func findAssistant(store *memory.Store, chatID string) (ports.Document, bool) {
	docs, err := store.Query(context.Background(), device.MessagesPath(testDeviceID, chatID), ports.Query{
		Filters: []ports.Filter{{Field: "role", Op: "==", Value: string(domchat.RoleAssistant)}},
	})
	if err != nil || len(docs) == 0 {
		return ports.Document{}, false
	}
	return docs[0], true
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

func TestRelayRespondsToPendingMessage(t *testing.T) {
	store := memory.New()
	defer store.Close()
	startRelay(t, store, chunkStreamer("Hello", " world"), nil)

	addChat(t, store, "t1")
	addUserMessage(t, store, "t1", "m1", "hi there")

	waitFor(t, "assistant response", func() bool {
		doc, ok := findAssistant(store, "t1")
		return ok && doc.Data["status"] == string(domchat.StatusDone)
	})

	doc, _ := findAssistant(store, "t1")
	if doc.Data["content"] != "Hello world" {
		t.Errorf("content = %q, want %q", doc.Data["content"], "Hello world")
	}
	if doc.Data["completedAt"] == nil {
		t.Error("completedAt not set")
	}

	user, err := store.Get(context.Background(), device.MessagePath(testDeviceID, "t1", "m1"))
	if err != nil {
		t.Fatal(err)
	}
	if user.Data["status"] != string(domchat.StatusSent) {
		t.Errorf("user status = %v, want sent", user.Data["status"])
	}
}

func TestRelaySubmitsHistoryInOrder(t *testing.T) {
	store := memory.New()
	defer store.Close()

	reqCh := make(chan ports.CompletionRequest, 1)
	streamer := &fakeStreamer{fn: func(ctx context.Context, req ports.CompletionRequest, deliver func(delta string) error) error {
		reqCh <- req
		return deliver("ok")
	}}
	startRelay(t, store, streamer, nil)

	addChat(t, store, "t1")
	base := time.Now().Add(-time.Minute)
	seed := []struct {
		id, role, content, status string
	}{
		{"m1", "user", "first", "sent"},
		{"m2", "assistant", "first reply", "done"},
		{"m3", "assistant", "aborted", "error"},
	}
	for i, m := range seed {
		err := store.Set(context.Background(), device.MessagePath(testDeviceID, "t1", m.id), map[string]interface{}{
			"role":      m.role,
			"content":   m.content,
			"status":    m.status,
			"createdAt": base.Add(time.Duration(i) * time.Second).UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	addUserMessage(t, store, "t1", "m4", "second")

	var req ports.CompletionRequest
	select {
	case req = <-reqCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for generation")
	}

	turns := req.Messages
	want := []domchat.Turn{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "first reply"},
		{Role: "user", Content: "second"},
	}
	if len(turns) != len(want) {
		t.Fatalf("history = %v, want %v", turns, want)
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Errorf("turn %d = %v, want %v", i, turns[i], want[i])
		}
	}
	if req.User != "petsync-chat-t1" {
		t.Errorf("user = %q", req.User)
	}
}

func TestRelayStreamErrorWritesErrorTerminal(t *testing.T) {
	store := memory.New()
	defer store.Close()
	streamer := &fakeStreamer{fn: func(ctx context.Context, req ports.CompletionRequest, deliver func(delta string) error) error {
		deliver("partial")
		return fmt.Errorf("gateway unreachable")
	}}
	startRelay(t, store, streamer, nil)

	addChat(t, store, "t1")
	addUserMessage(t, store, "t1", "m1", "hi")

	waitFor(t, "error terminal", func() bool {
		doc, ok := findAssistant(store, "t1")
		return ok && doc.Data["status"] == string(domchat.StatusError)
	})

	doc, _ := findAssistant(store, "t1")
	content, _ := doc.Data["content"].(string)
	if !strings.HasPrefix(content, "response failed:") {
		t.Errorf("content = %q", content)
	}
	if doc.Data["completedAt"] == nil {
		t.Error("completedAt not set")
	}
}

func TestRelayFlushesAtCharBoundary(t *testing.T) {
	store := memory.New()
	defer store.Close()

	var partial string
	streamer := &fakeStreamer{fn: func(ctx context.Context, req ports.CompletionRequest, deliver func(delta string) error) error {
		if err := deliver("aaaa"); err != nil {
			return err
		}
		if err := deliver("bb"); err != nil {
			return err
		}
		// The second delta crossed the 5-char boundary, so the partial
		// content must already be visible remotely.
		if doc, ok := findAssistant(store, "t1"); ok {
			partial, _ = doc.Data["content"].(string)
		}
		return nil
	}}
	startRelay(t, store, streamer, func(c *Config) {
		c.FlushChars = 5
		c.FlushInterval = time.Hour
	})

	addChat(t, store, "t1")
	addUserMessage(t, store, "t1", "m1", "hi")

	waitFor(t, "done", func() bool {
		doc, ok := findAssistant(store, "t1")
		return ok && doc.Data["status"] == string(domchat.StatusDone)
	})
	if partial != "aaaabb" {
		t.Errorf("partial at boundary = %q, want %q", partial, "aaaabb")
	}
}

func TestRelayFlushesOnInterval(t *testing.T) {
	store := memory.New()
	defer store.Close()

	var beforeDelay, afterDelay string
	streamer := &fakeStreamer{fn: func(ctx context.Context, req ports.CompletionRequest, deliver func(delta string) error) error {
		if err := deliver("Hello"); err != nil {
			return err
		}
		if doc, ok := findAssistant(store, "t1"); ok {
			beforeDelay, _ = doc.Data["content"].(string)
		}
		// Crossing the interval makes the next delta flush even though the
		// char boundary is nowhere near.
		time.Sleep(60 * time.Millisecond)
		if err := deliver(" world"); err != nil {
			return err
		}
		if doc, ok := findAssistant(store, "t1"); ok {
			afterDelay, _ = doc.Data["content"].(string)
		}
		return nil
	}}
	startRelay(t, store, streamer, func(c *Config) {
		c.FlushChars = 10000
		c.FlushInterval = 20 * time.Millisecond
	})

	addChat(t, store, "t1")
	addUserMessage(t, store, "t1", "m1", "hi")

	waitFor(t, "done", func() bool {
		doc, ok := findAssistant(store, "t1")
		return ok && doc.Data["status"] == string(domchat.StatusDone)
	})
	if beforeDelay != "" {
		t.Errorf("content before interval = %q, want no flush yet", beforeDelay)
	}
	if afterDelay != "Hello world" {
		t.Errorf("content after interval = %q, want %q", afterDelay, "Hello world")
	}
}

func TestRelayRemovedThreadStopsResponding(t *testing.T) {
	store := memory.New()
	defer store.Close()
	startRelay(t, store, chunkStreamer("never"), nil)

	addChat(t, store, "t1")
	time.Sleep(50 * time.Millisecond)
	if err := store.Delete(context.Background(), device.ChatsPath(testDeviceID)+"/t1"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	addUserMessage(t, store, "t1", "m1", "hi")
	time.Sleep(100 * time.Millisecond)

	if _, ok := findAssistant(store, "t1"); ok {
		t.Error("removed thread must not be answered")
	}
	user, _ := store.Get(context.Background(), device.MessagePath(testDeviceID, "t1", "m1"))
	if user.Data["status"] != string(domchat.StatusPending) {
		t.Errorf("user status = %v, want untouched pending", user.Data["status"])
	}
}
