package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	dmerrors "github.com/jbctechsolutions/petsync/internal/domain/errors"
)

type staticTokens string

func (s staticTokens) IDToken(ctx context.Context) (string, error) {
	return string(s), nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig(server.URL)
	cfg.MaxRetries = 1
	cfg.RetryBaseDelay = 10 * time.Millisecond
	return NewClient(cfg, staticTokens("test-token")), server
}

func TestGetDocument(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/devices/d1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth = %q", got)
		}
		json.NewEncoder(w).Encode(wireDoc{
			ID:     "d1",
			Path:   "devices/d1",
			Fields: map[string]interface{}{"name": "desk"},
		})
	}))

	doc, err := client.Get(context.Background(), "devices/d1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.ID != "d1" || doc.Data["name"] != "desk" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestGetNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.Get(context.Background(), "devices/missing")
	if !errors.Is(err, dmerrors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetSendsMergePatch(t *testing.T) {
	var gotMethod string
	var gotBody map[string]interface{}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))

	err := client.Set(context.Background(), "devices/d1", map[string]interface{}{"status": "online"})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method = %q, want PATCH", gotMethod)
	}
	if gotBody["status"] != "online" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestAddReturnsGeneratedID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"generated-1"}`)
	}))

	id, err := client.Add(context.Background(), "devices/d1/commands", map[string]interface{}{"action": "refresh_info"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if id != "generated-1" {
		t.Errorf("id = %q", id)
	}
}

func TestDeleteAbsentIsNotError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	if err := client.Delete(context.Background(), "devices/ghost"); err != nil {
		t.Errorf("Delete absent = %v", err)
	}
}

func TestQueryEncodesFilters(t *testing.T) {
	var gotQuery string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"documents":[{"id":"c1","fields":{"status":"pending"}}]}`)
	}))

	docs, err := client.Query(context.Background(), "devices/d1/commands", ports.Query{
		Filters:   []ports.Filter{{Field: "status", Op: "==", Value: "pending"}},
		OrderBy:   "createdAt",
		Ascending: true,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "c1" {
		t.Fatalf("docs = %+v", docs)
	}
	if docs[0].Path != "devices/d1/commands/c1" {
		t.Errorf("path = %q", docs[0].Path)
	}
	for _, want := range []string{"where=", "orderBy=createdAt", "asc=true"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestRetryOnServerError(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(wireDoc{ID: "d1", Fields: map[string]interface{}{}})
	}))

	if _, err := client.Get(context.Background(), "devices/d1"); err != nil {
		t.Fatalf("Get failed after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestErrorResponseMapping(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"message":"permission denied"}}`)
	}))

	_, err := client.Get(context.Background(), "devices/d1")
	var perr *dmerrors.PetsyncError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %T", err)
	}
	if perr.Code != dmerrors.CodeAuth {
		t.Errorf("code = %s, want AUTH", perr.Code)
	}
}

func TestWatchDeliversBatches(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/watch/") {
			t.Errorf("path = %q", r.URL.Path)
		}
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		fmt.Fprint(w, `data: [{"kind":"added","doc":{"id":"d1","path":"devices/d1","fields":{"name":"desk"}}}]`+"\n\n")
		flusher.Flush()
		fmt.Fprint(w, `data: [{"kind":"modified","doc":{"id":"d1","path":"devices/d1","fields":{"name":"lab"}}}]`+"\n\n")
		flusher.Flush()
		// Hold the stream open until the client goes away.
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := client.Watch(ctx, "devices/d1")
	if err != nil {
		t.Fatal(err)
	}

	batch := <-ch
	if batch[0].Kind != ports.ChangeAdded || batch[0].Doc.Data["name"] != "desk" {
		t.Fatalf("first batch = %+v", batch)
	}
	batch = <-ch
	if batch[0].Kind != ports.ChangeModified || batch[0].Doc.Data["name"] != "lab" {
		t.Fatalf("second batch = %+v", batch)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// Any in-flight batch may drain first; the channel must
			// still close afterwards.
			for range ch {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestWatchReconnects(t *testing.T) {
	connects := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connects++
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `data: [{"kind":"added","doc":{"id":"d1","path":"devices/d1","fields":{"n":%d}}}]`+"\n\n", connects)
		flusher.Flush()
		// Close the stream; the client should reconnect.
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := client.Watch(ctx, "devices/d1")
	if err != nil {
		t.Fatal(err)
	}

	<-ch
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no batch after reconnect")
	}
	if connects < 2 {
		t.Errorf("connects = %d, want at least 2", connects)
	}
}
