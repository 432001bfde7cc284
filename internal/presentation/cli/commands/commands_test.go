package commands

import (
	"testing"

	"github.com/jbctechsolutions/petsync/internal/adapters/store/memory"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/config"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()
	if cmd == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	if cmd.Use != "petsync" {
		t.Errorf("expected Use='petsync', got %q", cmd.Use)
	}

	wantSubcmds := []string{"version", "run", "login", "logout", "status", "service"}
	subcmds := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subcmds[sub.Name()] = true
	}
	for _, want := range wantSubcmds {
		if !subcmds[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

func TestServiceSubcommands(t *testing.T) {
	cmd := NewServiceCmd()
	want := map[string]bool{"install": false, "uninstall": false, "restart": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing service subcommand %q", name)
		}
	}
}

func TestNewStore(t *testing.T) {
	cfg := config.NewDefaultConfig()

	t.Run("memory backend", func(t *testing.T) {
		store, err := newStore(cfg, "memory", nil)
		if err != nil {
			t.Fatalf("newStore: %v", err)
		}
		if _, ok := store.(*memory.Store); !ok {
			t.Errorf("expected *memory.Store, got %T", store)
		}
	})

	t.Run("remote without base URL", func(t *testing.T) {
		if _, err := newStore(cfg, "remote", nil); err == nil {
			t.Error("expected error for remote backend without base_url")
		}
	})

	t.Run("configured backend is the default", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Store.Backend = "memory"
		store, err := newStore(cfg, "", nil)
		if err != nil {
			t.Fatalf("newStore: %v", err)
		}
		if _, ok := store.(*memory.Store); !ok {
			t.Errorf("expected *memory.Store, got %T", store)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		if _, err := newStore(cfg, "carrier-pigeon", nil); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
}

func TestIdentityEndpoints(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Identity.TokenURL = "https://id.example/token"
	cfg.Identity.RefreshSessionURL = "https://id.example/refresh"
	cfg.Identity.ClaimDeviceURL = "https://id.example/claim"
	cfg.Identity.ClientURL = "https://app.example"

	eps := identityEndpoints(cfg)
	if eps.TokenURL != cfg.Identity.TokenURL {
		t.Errorf("TokenURL = %q", eps.TokenURL)
	}
	if eps.RefreshSessionURL != cfg.Identity.RefreshSessionURL {
		t.Errorf("RefreshSessionURL = %q", eps.RefreshSessionURL)
	}
	if eps.ClaimDeviceURL != cfg.Identity.ClaimDeviceURL {
		t.Errorf("ClaimDeviceURL = %q", eps.ClaimDeviceURL)
	}
	if eps.ClientURL != cfg.Identity.ClientURL {
		t.Errorf("ClientURL = %q", eps.ClientURL)
	}
}
