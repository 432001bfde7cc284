package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jbctechsolutions/petsync/internal/adapters/store/memory"
	"github.com/jbctechsolutions/petsync/internal/application/ports"
	dmerrors "github.com/jbctechsolutions/petsync/internal/domain/errors"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.DefaultConfig())
}

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "petsync.json")

	in := &Credentials{
		UID:          "u1",
		Email:        "dev@example.com",
		DeviceID:     "pet_0123456789abcdef",
		DeviceName:   "desk",
		RefreshToken: "rt-1",
		SavedAt:      "2026-08-01T00:00:00Z",
	}
	if err := SaveCredentials(path, in); err != nil {
		t.Fatalf("SaveCredentials failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credentials mode = %o, want 600", perm)
	}

	out, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestLoadCredentialsMissingOrInvalid(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadCredentials(filepath.Join(dir, "absent.json")); !errors.Is(err, dmerrors.ErrNotPaired) {
		t.Errorf("missing file err = %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("{not json"), 0600)
	if _, err := LoadCredentials(bad); !errors.Is(err, dmerrors.ErrNotPaired) {
		t.Errorf("corrupt file err = %v", err)
	}

	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, []byte(`{"uid":"u1"}`), 0600)
	if _, err := LoadCredentials(empty); !errors.Is(err, dmerrors.ErrNotPaired) {
		t.Errorf("tokenless file err = %v", err)
	}
}

func TestRemoveCredentialsAbsent(t *testing.T) {
	if err := RemoveCredentials(filepath.Join(t.TempDir(), "none.json")); err != nil {
		t.Errorf("remove absent = %v", err)
	}
}

func TestIDTokenExchangeAndCache(t *testing.T) {
	exchanges := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id_token":      "id-1",
			"refresh_token": "rt-1",
			"expires_in":    "3600",
		})
	}))
	defer server.Close()

	session := NewSession(Endpoints{TokenURL: server.URL}, "", &Credentials{
		DeviceID:     "pet_x",
		RefreshToken: "rt-1",
	}, testLogger())

	ctx := context.Background()
	token, err := session.IDToken(ctx)
	if err != nil {
		t.Fatalf("IDToken failed: %v", err)
	}
	if token != "id-1" {
		t.Errorf("token = %q", token)
	}

	if _, err := session.IDToken(ctx); err != nil {
		t.Fatal(err)
	}
	if exchanges != 1 {
		t.Errorf("exchanges = %d, want cached second call", exchanges)
	}
}

func TestIDTokenPersistsRotation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"id_token":      "id-1",
			"refresh_token": "rt-rotated",
			"expires_in":    "3600",
		})
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "petsync.json")
	creds := &Credentials{UID: "u1", DeviceID: "pet_x", RefreshToken: "rt-old"}
	if err := SaveCredentials(path, creds); err != nil {
		t.Fatal(err)
	}

	session := NewSession(Endpoints{TokenURL: server.URL}, path, creds, testLogger())
	if _, err := session.IDToken(context.Background()); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadCredentials(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.RefreshToken != "rt-rotated" {
		t.Errorf("persisted refresh token = %q, want rotated", reloaded.RefreshToken)
	}
}

func TestIDTokenExpiredRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"TOKEN_EXPIRED"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	session := NewSession(Endpoints{TokenURL: server.URL}, "", &Credentials{
		DeviceID:     "pet_x",
		RefreshToken: "rt-stale",
	}, testLogger())

	_, err := session.IDToken(context.Background())
	if !errors.Is(err, dmerrors.ErrSessionExpired) {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}
}

func TestRestoreConfirmsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id_token": "id-1", "expires_in": "3600"})
	})
	var gotIDToken string
	mux.HandleFunc("/refreshSession", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		gotIDToken = req["idToken"]
		fmt.Fprint(w, `{}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := NewSession(Endpoints{
		TokenURL:          server.URL + "/token",
		RefreshSessionURL: server.URL + "/refreshSession",
	}, "", &Credentials{DeviceID: "pet_x", RefreshToken: "rt-1"}, testLogger())

	if err := session.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if gotIDToken != "id-1" {
		t.Errorf("session confirm got id token %q", gotIDToken)
	}
}

func TestClaimDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code     string `json:"code"`
			DeviceID string `json:"deviceId"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Code != "AB12" || req.DeviceID != "pet_x" {
			t.Errorf("claim request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"uid":          "u1",
			"email":        "dev@example.com",
			"refreshToken": "rt-new",
		})
	}))
	defer server.Close()

	session := NewSession(Endpoints{ClaimDeviceURL: server.URL}, "", nil, testLogger())

	creds, err := session.ClaimDevice(context.Background(), "AB12", "pet_x", map[string]interface{}{"hostname": "desk"})
	if err != nil {
		t.Fatalf("ClaimDevice failed: %v", err)
	}
	if creds.UID != "u1" || creds.RefreshToken != "rt-new" || creds.DeviceID != "pet_x" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestLoginFlowBrowserApproval(t *testing.T) {
	store := memory.New()
	session := NewSession(Endpoints{ClientURL: "https://app.example.com"}, "", nil, testLogger())

	flow := NewLoginFlow(session, store, time.Minute)
	flow.printf = func(string, ...interface{}) {}
	flow.readCode = func() (string, error) {
		// Simulate a prompt nobody answers.
		select {}
	}

	// Approve the request as soon as it appears.
	go func() {
		ctx := context.Background()
		for {
			docs, _ := store.Query(ctx, LoginRequestsCollection, ports.Query{})
			if len(docs) > 0 {
				store.Set(ctx, docs[0].Path, map[string]interface{}{
					"status":       "approved",
					"uid":          "u1",
					"email":        "dev@example.com",
					"refreshToken": "rt-approved",
				})
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	result, err := flow.Run(context.Background(), "pet_x", "desk", map[string]interface{}{"hostname": "desk"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Approved {
		t.Error("expected browser approval path")
	}
	if result.Credentials.RefreshToken != "rt-approved" || result.Credentials.DeviceName != "desk" {
		t.Errorf("credentials = %+v", result.Credentials)
	}
}

func TestLoginFlowTimeout(t *testing.T) {
	store := memory.New()
	session := NewSession(Endpoints{ClientURL: "https://app.example.com"}, "", nil, testLogger())

	flow := NewLoginFlow(session, store, 50*time.Millisecond)
	flow.printf = func(string, ...interface{}) {}
	flow.readCode = func() (string, error) { select {} }

	_, err := flow.Run(context.Background(), "pet_x", "desk", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
