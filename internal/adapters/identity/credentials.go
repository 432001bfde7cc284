// Package identity manages the pairing credential and the authenticated
// session: the credentials file under the daemon home, refresh-token based
// session restore, and the interactive device claim flow.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jbctechsolutions/petsync/internal/domain/errors"
)

// Credentials is the persisted pairing state. The refresh token is the only
// secret; the file is owner read/write only.
type Credentials struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	DeviceID     string `json:"deviceId"`
	DeviceName   string `json:"deviceName"`
	RefreshToken string `json:"refreshToken"`
	SavedAt      string `json:"savedAt"`
}

// Valid reports whether the credentials can start a session.
func (c *Credentials) Valid() bool {
	return c != nil && c.RefreshToken != "" && c.DeviceID != ""
}

// LoadCredentials reads the credentials file. Returns ErrNotPaired when the
// file is missing or unusable.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ErrNotPaired
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.ErrNotPaired
	}
	if !creds.Valid() {
		return nil, errors.ErrNotPaired
	}
	return &creds, nil
}

// SaveCredentials writes the credentials file with 0600 permissions.
func SaveCredentials(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// RemoveCredentials deletes the credentials file. A missing file is not an
// error.
func RemoveCredentials(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
