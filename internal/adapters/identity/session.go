package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jbctechsolutions/petsync/internal/domain/errors"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/logging"
)

// Endpoints holds the identity service URLs.
type Endpoints struct {
	// TokenURL exchanges a refresh token for an id token.
	TokenURL string
	// RefreshSessionURL validates a restored session server-side.
	RefreshSessionURL string
	// ClaimDeviceURL redeems a pairing code for session tokens.
	ClaimDeviceURL string
	// ClientURL is the browser-facing approval page base.
	ClientURL string
}

// Session implements ports.TokenProvider. It exchanges the stored refresh
// token for short-lived id tokens and persists refresh token rotation.
type Session struct {
	endpoints       Endpoints
	httpClient      *http.Client
	logger          *logging.Logger
	credentialsPath string

	mu        sync.Mutex
	creds     *Credentials
	idToken   string
	expiresAt time.Time
}

// NewSession creates a session over the stored credentials.
func NewSession(endpoints Endpoints, credentialsPath string, creds *Credentials, logger *logging.Logger) *Session {
	return &Session{
		endpoints:       endpoints,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          logger,
		credentialsPath: credentialsPath,
		creds:           creds,
	}
}

// Credentials returns the current credentials.
func (s *Session) Credentials() *Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// Restore establishes the session at startup: exchanges the refresh token
// for an id token, then confirms the session with the identity service. An
// expired refresh token yields ErrSessionExpired.
func (s *Session) Restore(ctx context.Context) error {
	if _, err := s.IDToken(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	idToken := s.idToken
	s.mu.Unlock()

	body, _ := json.Marshal(map[string]string{"idToken": idToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoints.RefreshSessionURL, bytes.NewReader(body))
	if err != nil {
		return errors.NewError(errors.CodeAuth, "failed to create session request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.NewError(errors.CodeAuth, "session refresh request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.ErrSessionExpired
	}

	var result struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.RefreshToken != "" {
		s.rotateRefreshToken(result.RefreshToken)
	}
	return nil
}

// IDToken returns a currently valid bearer token, exchanging the refresh
// token when the cached one is missing or near expiry.
func (s *Session) IDToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idToken != "" && time.Until(s.expiresAt) > time.Minute {
		return s.idToken, nil
	}
	if s.creds == nil || s.creds.RefreshToken == "" {
		return "", errors.ErrNotPaired
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.creds.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoints.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.NewError(errors.CodeAuth, "failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", errors.NewError(errors.CodeAuth, "token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.Warn("token exchange rejected", "status", resp.StatusCode, "detail", string(detail))
		return "", errors.ErrSessionExpired
	}

	var result struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.NewError(errors.CodeAuth, "failed to decode token response", err)
	}
	if result.IDToken == "" {
		return "", errors.ErrSessionExpired
	}

	s.idToken = result.IDToken
	ttl := 55 * time.Minute
	if seconds, err := strconv.Atoi(result.ExpiresIn); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	s.expiresAt = time.Now().Add(ttl)

	if result.RefreshToken != "" && result.RefreshToken != s.creds.RefreshToken {
		s.creds.RefreshToken = result.RefreshToken
		s.persistLocked()
	}
	return s.idToken, nil
}

// ClaimDevice redeems a pairing code and returns the resulting credentials.
func (s *Session) ClaimDevice(ctx context.Context, code, deviceID string, deviceInfo map[string]interface{}) (*Credentials, error) {
	body, err := json.Marshal(map[string]interface{}{
		"code":       code,
		"deviceId":   deviceID,
		"deviceInfo": deviceInfo,
	})
	if err != nil {
		return nil, errors.NewError(errors.CodeAuth, "failed to marshal claim request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoints.ClaimDeviceURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewError(errors.CodeAuth, "failed to create claim request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewError(errors.CodeAuth, "claim request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.NewError(errors.CodeAuth,
			fmt.Sprintf("device claim rejected: HTTP %d: %s", resp.StatusCode, detail), nil)
	}

	var result struct {
		UID          string `json:"uid"`
		Email        string `json:"email"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.NewError(errors.CodeAuth, "failed to decode claim response", err)
	}
	if result.RefreshToken == "" {
		return nil, errors.NewError(errors.CodeAuth, "device claim returned no refresh token", nil)
	}

	creds := &Credentials{
		UID:          result.UID,
		Email:        result.Email,
		DeviceID:     deviceID,
		RefreshToken: result.RefreshToken,
		SavedAt:      time.Now().UTC().Format(time.RFC3339),
	}

	s.mu.Lock()
	s.creds = creds
	s.idToken = ""
	s.mu.Unlock()

	return creds, nil
}

func (s *Session) rotateRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil || s.creds.RefreshToken == token {
		return
	}
	s.creds.RefreshToken = token
	s.persistLocked()
}

// persistLocked saves rotated credentials. Caller holds mu.
func (s *Session) persistLocked() {
	if s.credentialsPath == "" {
		return
	}
	if err := SaveCredentials(s.credentialsPath, s.creds); err != nil {
		s.logger.Warn("failed to persist rotated refresh token", "error", err)
	}
}
