// Package localstate provides the filesystem representation of the managed
// agent installation: the main configuration document, the auxiliary
// configuration directory, the allow-listed workspace files, and the
// environment file the gateway reads. It has no network awareness; the sync
// engine is its only writer besides the user's editor.
package localstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jbctechsolutions/petsync/internal/infrastructure/config"
)

// WorkspaceFiles is the fixed allow-list of workspace file names. Remote
// writes naming any other file are ignored.
var WorkspaceFiles = []string{
	"AGENTS.md",
	"SOUL.md",
	"USER.md",
	"TOOLS.md",
	"IDENTITY.md",
	"HEARTBEAT.md",
}

// Store reads and writes the local agent state. Each write fully replaces
// prior content for the affected file; no history is kept.
type Store struct {
	paths *config.Paths
}

// NewStore creates a Store over the resolved agent paths.
func NewStore(paths *config.Paths) *Store {
	return &Store{paths: paths}
}

// Paths returns the resolved path set.
func (s *Store) Paths() *config.Paths {
	return s.paths
}

// ReadConfig reads the main configuration document. A missing or unparsable
// file yields an empty configuration, matching first-run state.
func (s *Store) ReadConfig() map[string]interface{} {
	data, err := os.ReadFile(s.paths.AgentConfigFile)
	if err != nil {
		return map[string]interface{}{}
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(data, &cfg); err != nil || cfg == nil {
		return map[string]interface{}{}
	}
	return cfg
}

// WriteConfig replaces the main configuration document.
func (s *Store) WriteConfig(cfg map[string]interface{}) error {
	if err := os.MkdirAll(s.paths.AgentHome, 0755); err != nil {
		return fmt.Errorf("create agent home: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode agent config: %w", err)
	}
	if err := os.WriteFile(s.paths.AgentConfigFile, data, 0644); err != nil {
		return fmt.Errorf("write agent config: %w", err)
	}
	return nil
}

// ReadConfigDir reads every regular file in the auxiliary configuration
// directory as filename → content.
func (s *Store) ReadConfigDir() (map[string]string, error) {
	if err := os.MkdirAll(s.paths.AgentConfigDir, 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	entries, err := os.ReadDir(s.paths.AgentConfigDir)
	if err != nil {
		return nil, fmt.Errorf("read config dir: %w", err)
	}
	files := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.paths.AgentConfigDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		files[e.Name()] = string(data)
	}
	return files, nil
}

// WriteConfigDir writes the given files into the auxiliary configuration
// directory. Files not named are left alone.
func (s *Store) WriteConfigDir(files map[string]string) error {
	if err := os.MkdirAll(s.paths.AgentConfigDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	for name, content := range files {
		// Reject names that would escape the directory.
		if name != filepath.Base(name) || name == "." || name == ".." {
			continue
		}
		fp := filepath.Join(s.paths.AgentConfigDir, name)
		if err := os.WriteFile(fp, []byte(content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// ReadWorkspace reads the allow-listed workspace files that exist.
func (s *Store) ReadWorkspace() map[string]string {
	files := make(map[string]string)
	for _, name := range WorkspaceFiles {
		data, err := os.ReadFile(filepath.Join(s.paths.WorkspaceDir, name))
		if err != nil {
			continue
		}
		files[name] = string(data)
	}
	return files
}

// WriteWorkspace writes workspace files, silently dropping any name outside
// the allow-list.
func (s *Store) WriteWorkspace(files map[string]string) error {
	if len(files) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.paths.WorkspaceDir, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	for name, content := range files {
		if !workspaceAllowed(name) {
			continue
		}
		fp := filepath.Join(s.paths.WorkspaceDir, name)
		if err := os.WriteFile(fp, []byte(content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func workspaceAllowed(name string) bool {
	for _, allowed := range WorkspaceFiles {
		if name == allowed {
			return true
		}
	}
	return false
}

// WatchTargets returns the paths the file watcher should observe to drive
// the push path: the main config, the auxiliary directory, and the existing
// workspace files.
func (s *Store) WatchTargets() []string {
	targets := []string{s.paths.AgentConfigFile}
	if _, err := os.Stat(s.paths.AgentConfigDir); err == nil {
		targets = append(targets, s.paths.AgentConfigDir)
	}
	for _, name := range WorkspaceFiles {
		fp := filepath.Join(s.paths.WorkspaceDir, name)
		if _, err := os.Stat(fp); err == nil {
			targets = append(targets, fp)
		}
	}
	return targets
}

// ReadEnvFile parses the KEY=value environment file. Blank lines and
// #-comments are skipped; single or double quotes around values are
// stripped. A missing file yields an empty map.
func (s *Store) ReadEnvFile() map[string]string {
	result := make(map[string]string)
	data, err := os.ReadFile(s.paths.EnvFile)
	if err != nil {
		return result
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		eq := strings.Index(trimmed, "=")
		if eq < 1 {
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		value := strings.TrimSpace(trimmed[eq+1:])
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if key != "" && value != "" {
			result[key] = value
		}
	}
	return result
}

// WriteEnvFile replaces the environment file with the given variables,
// owner read/write only. The gateway process picks it up on restart.
func (s *Store) WriteEnvFile(vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.paths.AgentHome, 0755); err != nil {
		return fmt.Errorf("create agent home: %w", err)
	}
	lines := make([]string, 0, len(vars))
	for k, v := range vars {
		if k == "" || v == "" {
			continue
		}
		lines = append(lines, k+"="+v)
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(s.paths.EnvFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

// GatewayEndpoint resolves the local completion endpoint and bearer token
// from the agent configuration, falling back to the configured default port.
func (s *Store) GatewayEndpoint(defaultPort int) (url, token string) {
	port := defaultPort
	cfg := s.ReadConfig()
	if gw, ok := cfg["gateway"].(map[string]interface{}); ok {
		if p, ok := gw["port"].(float64); ok && p > 0 {
			port = int(p)
		}
		if auth, ok := gw["auth"].(map[string]interface{}); ok {
			if t, ok := auth["token"].(string); ok {
				token = t
			}
		}
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port), token
}
