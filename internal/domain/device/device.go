// Package device provides domain entities for a paired device ("pet") and
// the remote document fields the daemon owns on it.
package device

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Status represents the liveness status published on the device document.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Info describes the host a device runs on. Identity fields are written at
// pairing time and refreshed with every push.
type Info struct {
	Hostname  string `json:"hostname"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
	OSRelease string `json:"osRelease"`
	CPUs      int    `json:"cpus"`
	CPUModel  string `json:"cpuModel"`
	MemTotal  int64  `json:"memTotal"`
	MemFree   int64  `json:"memFree"`
}

// Document is the decoded view of the remote device document. The pairing
// flow owns the identity fields; the daemon owns everything else. Exactly one
// of Config and EncryptedConfig is populated at any time.
type Document struct {
	Name      string `json:"name"`
	Revoked   bool   `json:"revoked"`
	CreatedAt string `json:"createdAt"`

	Config          map[string]interface{} `json:"config"`
	EncryptedConfig string                 `json:"encryptedConfig"`
	AgentFiles      map[string]string      `json:"agentFiles"`
	Workspace       map[string]string      `json:"workspace"`

	DeviceEnvVars map[string]string      `json:"deviceEnvVars"`
	DeviceSecrets map[string]interface{} `json:"deviceSecrets"`

	HasAgent     bool   `json:"hasAgent"`
	AgentPath    string `json:"agentPath"`
	AgentVersion string `json:"agentVersion"`
	Version      string `json:"daemonVersion"`
	LastSeen     string `json:"lastSeen"`
	Status       Status `json:"status"`
}

// DecodeDocument builds a Document from a raw store snapshot.
func DecodeDocument(data map[string]interface{}) (*Document, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode device document: %w", err)
	}
	doc := &Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode device document: %w", err)
	}
	return doc, nil
}

// HasEnvChange reports whether the document carries environment variables or
// secrets that the daemon must reload before restarting the gateway.
func (d *Document) HasEnvChange() bool {
	return len(d.DeviceEnvVars) > 0 || len(d.DeviceSecrets) > 0
}

// Heartbeat is the liveness record written to the runtime/heartbeat
// sub-document on a short cadence, kept off the main document so the pull
// subscription is not re-triggered by it.
type Heartbeat struct {
	LastSeen time.Time
	Status   Status
}

// Fields returns the heartbeat as a merge-write payload.
func (h Heartbeat) Fields() map[string]interface{} {
	return map[string]interface{}{
		"lastSeen": h.LastSeen.UTC().Format(time.RFC3339),
		"status":   string(h.Status),
	}
}

// credentialKey matches configuration keys that carry credential material.
var credentialKey = regexp.MustCompile(`(?i)key|token|secret|password`)

// IsCredentialKey reports whether a configuration key name looks like it
// holds credential material and must be masked before any unencrypted write.
func IsCredentialKey(name string) bool {
	return credentialKey.MatchString(name)
}

// MaskSecrets returns a copy of entries with every credential-shaped value
// replaced by "***". Nested entry maps are copied; other value kinds pass
// through unchanged.
func MaskSecrets(entries map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(entries))
	for name, raw := range entries {
		fields, ok := raw.(map[string]interface{})
		if !ok {
			masked[name] = map[string]interface{}{"enabled": true}
			continue
		}
		clean := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			if IsCredentialKey(k) {
				clean[k] = "***"
			} else {
				clean[k] = v
			}
		}
		masked[name] = clean
	}
	return masked
}
