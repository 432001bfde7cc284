package config

import (
	"os"
	"path/filepath"
)

// Paths resolves every filesystem location the daemon touches: its own home
// under ~/.petsync and the managed agent installation it keeps in sync.
type Paths struct {
	// Home is the petsync state directory (~/.petsync).
	Home string
	// CredentialsFile stores the pairing credential (0600).
	CredentialsFile string
	// JournalFile is the SQLite activity journal.
	JournalFile string

	// AgentHome is the managed agent installation root.
	AgentHome string
	// AgentConfigFile is the main configuration document (agent.json).
	AgentConfigFile string
	// AgentConfigDir is the auxiliary configuration directory (agent/).
	AgentConfigDir string
	// WorkspaceDir holds the allow-listed workspace files.
	WorkspaceDir string
	// EnvFile is the KEY=value environment file the gateway reads.
	EnvFile string
}

// ResolvePaths builds Paths from the configuration and environment.
// Resolution order for the agent home: config override, AGENT_HOME
// environment variable, ~/.agent.
func ResolvePaths(cfg *Config) (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	agentHome := cfg.Agent.Home
	if agentHome == "" {
		agentHome = os.Getenv("AGENT_HOME")
	}
	if agentHome == "" {
		agentHome = filepath.Join(homeDir, ".agent")
	}

	psHome := filepath.Join(homeDir, ".petsync")
	return &Paths{
		Home:            psHome,
		CredentialsFile: filepath.Join(psHome, "petsync.json"),
		JournalFile:     filepath.Join(psHome, "petsync.db"),
		AgentHome:       agentHome,
		AgentConfigFile: filepath.Join(agentHome, "agent.json"),
		AgentConfigDir:  filepath.Join(agentHome, "agent"),
		WorkspaceDir:    filepath.Join(agentHome, "workspace"),
		EnvFile:         filepath.Join(agentHome, ".env"),
	}, nil
}

// AgentInstalled reports whether an agent installation is present, judged by
// the existence of the main configuration document.
func (p *Paths) AgentInstalled() bool {
	_, err := os.Stat(p.AgentConfigFile)
	return err == nil
}
