package localstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jbctechsolutions/petsync/internal/infrastructure/config"
)

func testPaths(t *testing.T) *config.Paths {
	t.Helper()
	home := t.TempDir()
	agentHome := filepath.Join(home, ".agent")
	return &config.Paths{
		Home:            filepath.Join(home, ".petsync"),
		CredentialsFile: filepath.Join(home, ".petsync", "petsync.json"),
		JournalFile:     filepath.Join(home, ".petsync", "petsync.db"),
		AgentHome:       agentHome,
		AgentConfigFile: filepath.Join(agentHome, "agent.json"),
		AgentConfigDir:  filepath.Join(agentHome, "agent"),
		WorkspaceDir:    filepath.Join(agentHome, "workspace"),
		EnvFile:         filepath.Join(agentHome, ".env"),
	}
}

func TestConfigRoundTrip(t *testing.T) {
	store := NewStore(testPaths(t))

	if got := store.ReadConfig(); len(got) != 0 {
		t.Fatalf("expected empty config before first write, got %v", got)
	}

	cfg := map[string]interface{}{
		"model": "agent-large",
		"gateway": map[string]interface{}{
			"port": float64(18789),
		},
	}
	if err := store.WriteConfig(cfg); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	got := store.ReadConfig()
	if got["model"] != "agent-large" {
		t.Errorf("model = %v, want agent-large", got["model"])
	}
	gw, ok := got["gateway"].(map[string]interface{})
	if !ok || gw["port"] != float64(18789) {
		t.Errorf("gateway = %v, want port 18789", got["gateway"])
	}
}

func TestReadConfigCorruptFile(t *testing.T) {
	paths := testPaths(t)
	store := NewStore(paths)

	if err := os.MkdirAll(paths.AgentHome, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.AgentConfigFile, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if got := store.ReadConfig(); len(got) != 0 {
		t.Errorf("expected empty config for corrupt file, got %v", got)
	}
}

func TestConfigDirRoundTrip(t *testing.T) {
	store := NewStore(testPaths(t))

	in := map[string]string{
		"models.json":   `{"default":"agent"}`,
		"routing.yaml":  "mode: auto\n",
		"../escape.txt": "nope",
	}
	if err := store.WriteConfigDir(in); err != nil {
		t.Fatalf("WriteConfigDir failed: %v", err)
	}

	got, err := store.ReadConfigDir()
	if err != nil {
		t.Fatalf("ReadConfigDir failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 files, got %d: %v", len(got), got)
	}
	if got["models.json"] != `{"default":"agent"}` {
		t.Errorf("models.json = %q", got["models.json"])
	}
	if _, ok := got["escape.txt"]; ok {
		t.Error("path traversal name should have been skipped")
	}
}

func TestWorkspaceAllowList(t *testing.T) {
	store := NewStore(testPaths(t))

	err := store.WriteWorkspace(map[string]string{
		"SOUL.md":    "# Soul\n",
		"AGENTS.md":  "# Agents\n",
		"evil.sh":    "#!/bin/sh\n",
		"NOTES.md":   "not allowed\n",
		"TOOLS.md":   "# Tools\n",
	})
	if err != nil {
		t.Fatalf("WriteWorkspace failed: %v", err)
	}

	got := store.ReadWorkspace()
	if len(got) != 3 {
		t.Fatalf("expected 3 workspace files, got %d: %v", len(got), got)
	}
	for _, name := range []string{"SOUL.md", "AGENTS.md", "TOOLS.md"} {
		if _, ok := got[name]; !ok {
			t.Errorf("missing %s", name)
		}
	}
	for _, name := range []string{"evil.sh", "NOTES.md"} {
		if _, ok := got[name]; ok {
			t.Errorf("%s should have been dropped", name)
		}
	}
}

func TestReadEnvFile(t *testing.T) {
	paths := testPaths(t)
	store := NewStore(paths)

	if got := store.ReadEnvFile(); len(got) != 0 {
		t.Fatalf("expected empty env for missing file, got %v", got)
	}

	content := `# gateway credentials
API_KEY="sk-abc123"
TOKEN='tok-xyz'
PLAIN=value

MALFORMED
=nokey
EMPTY=
`
	if err := os.MkdirAll(paths.AgentHome, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.EnvFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	got := store.ReadEnvFile()
	want := map[string]string{
		"API_KEY": "sk-abc123",
		"TOKEN":   "tok-xyz",
		"PLAIN":   "value",
	}
	if len(got) != len(want) {
		t.Fatalf("env = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestWriteEnvFilePermissions(t *testing.T) {
	paths := testPaths(t)
	store := NewStore(paths)

	if err := store.WriteEnvFile(map[string]string{"API_KEY": "secret"}); err != nil {
		t.Fatalf("WriteEnvFile failed: %v", err)
	}

	info, err := os.Stat(paths.EnvFile)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("env file mode = %o, want 600", perm)
	}

	got := store.ReadEnvFile()
	if got["API_KEY"] != "secret" {
		t.Errorf("round trip = %v", got)
	}
}

func TestGatewayEndpoint(t *testing.T) {
	store := NewStore(testPaths(t))

	url, token := store.GatewayEndpoint(18789)
	if url != "http://127.0.0.1:18789" || token != "" {
		t.Errorf("defaults = %q, %q", url, token)
	}

	err := store.WriteConfig(map[string]interface{}{
		"gateway": map[string]interface{}{
			"port": float64(9000),
			"auth": map[string]interface{}{"token": "gw-token"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	url, token = store.GatewayEndpoint(18789)
	if url != "http://127.0.0.1:9000" {
		t.Errorf("url = %q", url)
	}
	if token != "gw-token" {
		t.Errorf("token = %q", token)
	}
}

func TestWatchTargets(t *testing.T) {
	paths := testPaths(t)
	store := NewStore(paths)

	if err := store.WriteConfig(map[string]interface{}{}); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteWorkspace(map[string]string{"SOUL.md": "x"}); err != nil {
		t.Fatal(err)
	}

	targets := store.WatchTargets()
	found := map[string]bool{}
	for _, tp := range targets {
		found[filepath.Base(tp)] = true
	}
	if !found["agent.json"] {
		t.Error("agent.json missing from watch targets")
	}
	if !found["SOUL.md"] {
		t.Error("SOUL.md missing from watch targets")
	}
}
