// Package gateway talks to the local agent gateway: streaming chat
// completions over its OpenAI-compatible endpoint, and process control
// through the agent CLI.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	"github.com/jbctechsolutions/petsync/internal/domain/errors"
)

// Config holds gateway client configuration.
type Config struct {
	BaseURL string
	Token   string
	Model   string
}

// Client implements ports.CompletionStreamer against the local gateway.
type Client struct {
	httpClient *http.Client
	config     Config
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a gateway completion client. The client has no request
// timeout; generation length is bounded by the caller's context.
func NewClient(config Config, opts ...ClientOption) *Client {
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	c := &Client{
		httpClient: &http.Client{},
		config:     config,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DynamicClient resolves the gateway endpoint before every request, so port
// and token changes in the agent configuration take effect without a daemon
// restart.
type DynamicClient struct {
	resolve func() (baseURL, token string)
	opts    []ClientOption
}

// NewDynamicClient wraps resolve into a ports.CompletionStreamer.
func NewDynamicClient(resolve func() (baseURL, token string), opts ...ClientOption) *DynamicClient {
	return &DynamicClient{resolve: resolve, opts: opts}
}

// Stream resolves the current endpoint and streams through it.
func (d *DynamicClient) Stream(ctx context.Context, req ports.CompletionRequest, deliver func(delta string) error) error {
	baseURL, token := d.resolve()
	return NewClient(Config{BaseURL: baseURL, Token: token}, d.opts...).Stream(ctx, req, deliver)
}

type completionPayload struct {
	Model    string      `json:"model"`
	Messages interface{} `json:"messages"`
	Stream   bool        `json:"stream"`
	User     string      `json:"user,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream submits the conversation and invokes deliver once per content
// delta until the stream ends.
func (c *Client) Stream(ctx context.Context, req ports.CompletionRequest, deliver func(delta string) error) error {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	body, err := json.Marshal(completionPayload{
		Model:    model,
		Messages: req.Messages,
		Stream:   true,
		User:     req.User,
	})
	if err != nil {
		return errors.NewError(errors.CodeGateway, "failed to marshal completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return errors.NewError(errors.CodeGateway, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.NewError(errors.CodeGateway, "completion request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.NewError(errors.CodeGateway,
			fmt.Sprintf("gateway returned HTTP %d: %s", resp.StatusCode, payload), nil)
	}

	return parseCompletionStream(resp.Body, deliver)
}

// parseCompletionStream reads the SSE body and forwards content deltas.
func parseCompletionStream(reader io.Reader, deliver func(delta string) error) error {
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		data, found := strings.CutPrefix(line, "data: ")
		if !found {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed keep-alive or vendor extension; skip it.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := deliver(delta); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.NewError(errors.CodeGateway, "error reading completion stream", err)
	}
	return nil
}

// Ping reports whether the gateway answers on its models endpoint.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
