// Package secrets implements ports.SecretCodec against the hosted
// encrypt/decrypt endpoints. The daemon never holds key material; it trades
// id-token-authenticated round trips for ciphertext.
package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	"github.com/jbctechsolutions/petsync/internal/domain/errors"
)

// Config holds secret service endpoints.
type Config struct {
	EncryptURL string
	DecryptURL string
	Timeout    time.Duration
}

// DefaultTimeout bounds one secret service round trip.
const DefaultTimeout = 15 * time.Second

// Codec is the HTTP secret codec client.
type Codec struct {
	httpClient *http.Client
	config     Config
	tokens     ports.TokenProvider
}

// CodecOption is a functional option for configuring the Codec.
type CodecOption func(*Codec)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) CodecOption {
	return func(c *Codec) {
		c.httpClient = httpClient
	}
}

// NewCodec creates a secret codec client.
func NewCodec(config Config, tokens ports.TokenProvider, opts ...CodecOption) *Codec {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	c := &Codec{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encrypt serializes value and returns the service's opaque ciphertext.
func (c *Codec) Encrypt(ctx context.Context, value interface{}) (string, error) {
	token, err := c.tokens.IDToken(ctx)
	if err != nil {
		return "", errors.NewError(errors.CodeAuth, "failed to resolve id token", err)
	}

	var result struct {
		EncData string `json:"encData"`
	}
	err = c.post(ctx, c.config.EncryptURL, map[string]interface{}{
		"idToken": token,
		"value":   value,
	}, &result)
	if err != nil {
		return "", err
	}
	if result.EncData == "" {
		return "", errors.ErrEncryptFailed
	}
	return result.EncData, nil
}

// Decrypt resolves named ciphertexts in one round trip. Entries the service
// could not decrypt are absent from the result.
func (c *Codec) Decrypt(ctx context.Context, secrets map[string]string) (map[string]string, error) {
	if len(secrets) == 0 {
		return map[string]string{}, nil
	}

	token, err := c.tokens.IDToken(ctx)
	if err != nil {
		return nil, errors.NewError(errors.CodeAuth, "failed to resolve id token", err)
	}

	var result struct {
		Values map[string]string `json:"values"`
	}
	err = c.post(ctx, c.config.DecryptURL, map[string]interface{}{
		"idToken": token,
		"secrets": secrets,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.Values == nil {
		result.Values = map[string]string{}
	}
	return result.Values, nil
}

func (c *Codec) post(ctx context.Context, url string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.NewError(errors.CodeSecrets, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.NewError(errors.CodeSecrets, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewError(errors.CodeSecrets, "secret service request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.NewError(errors.CodeSecrets,
			fmt.Sprintf("secret service returned HTTP %d: %s", resp.StatusCode, detail), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewError(errors.CodeSecrets, "failed to decode response", err)
	}
	return nil
}
