// Package remote implements ports.DocumentStore against the hosted document
// store's REST and SSE endpoints. Documents live at /v1/<path>; watch
// streams at /v1/watch/<path> deliver change batches as data: lines.
package remote

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
	"time"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	"github.com/jbctechsolutions/petsync/internal/domain/errors"
)

// Config holds remote store client configuration.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultConfig returns sensible defaults for the remote store client.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        strings.TrimSuffix(baseURL, "/"),
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  10 * time.Second,
	}
}

// Client is the HTTP document store client.
type Client struct {
	httpClient *http.Client
	// streamClient has no timeout; watch streams stay open indefinitely.
	streamClient *http.Client
	config       Config
	tokens       ports.TokenProvider
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client for request/response calls.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithStreamClient sets a custom HTTP client for watch streams.
func WithStreamClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.streamClient = httpClient
	}
}

// NewClient creates a remote store client. Every request carries a bearer
// token from the provider.
func NewClient(config Config, tokens ports.TokenProvider, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
		config:       config,
		tokens:       tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireDoc is the wire form of a document.
type wireDoc struct {
	ID     string                 `json:"id"`
	Path   string                 `json:"path"`
	Fields map[string]interface{} `json:"fields"`
}

// wireChange is one change entry in a watch batch.
type wireChange struct {
	Kind string  `json:"kind"`
	Doc  wireDoc `json:"doc"`
}

// Get reads one document.
func (c *Client) Get(ctx context.Context, path string) (ports.Document, error) {
	resp, err := c.doRequestWithRetry(ctx, http.MethodGet, "/v1/"+path, nil)
	if err != nil {
		return ports.Document{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ports.Document{}, errors.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return ports.Document{}, c.handleErrorResponse(resp)
	}

	var doc wireDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return ports.Document{}, errors.NewError(errors.CodeStore, "failed to decode document", err)
	}
	return toDocument(doc, path), nil
}

// Set merge-writes fields onto the document at path.
func (c *Client) Set(ctx context.Context, path string, fields map[string]interface{}) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return errors.NewError(errors.CodeStore, "failed to marshal fields", err)
	}

	resp, err := c.doRequestWithRetry(ctx, http.MethodPatch, "/v1/"+path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.handleErrorResponse(resp)
	}
	return nil
}

// Add creates a document with a server-generated ID under collection.
func (c *Client) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return "", errors.NewError(errors.CodeStore, "failed to marshal fields", err)
	}

	resp, err := c.doRequestWithRetry(ctx, http.MethodPost, "/v1/"+collection, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", c.handleErrorResponse(resp)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.NewError(errors.CodeStore, "failed to decode create response", err)
	}
	return result.ID, nil
}

// Delete removes the document at path. Absent documents are not an error.
func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.doRequestWithRetry(ctx, http.MethodDelete, "/v1/"+path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusOK ||
		resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return c.handleErrorResponse(resp)
}

// Query reads the documents of a collection matching q.
func (c *Client) Query(ctx context.Context, collection string, q ports.Query) ([]ports.Document, error) {
	path := "/v1/" + collection + queryParams(q)
	resp, err := c.doRequestWithRetry(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp)
	}

	var result struct {
		Documents []wireDoc `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.NewError(errors.CodeStore, "failed to decode query response", err)
	}

	docs := make([]ports.Document, 0, len(result.Documents))
	for _, d := range result.Documents {
		docs = append(docs, toDocument(d, collection+"/"+d.ID))
	}
	return docs, nil
}

// Watch subscribes to a single document.
func (c *Client) Watch(ctx context.Context, path string) (<-chan []ports.Change, error) {
	return c.watch(ctx, "/v1/watch/"+path)
}

// WatchQuery subscribes to a filtered collection.
func (c *Client) WatchQuery(ctx context.Context, collection string, q ports.Query) (<-chan []ports.Change, error) {
	return c.watch(ctx, "/v1/watch/"+collection+queryParams(q))
}

// watch opens the SSE stream and pumps change batches into a channel,
// reconnecting with backoff until ctx ends. The server replays current
// state as an added batch on every (re)connect.
func (c *Client) watch(ctx context.Context, path string) (<-chan []ports.Change, error) {
	ch := make(chan []ports.Change, 64)

	go func() {
		defer close(ch)

		delay := c.config.RetryBaseDelay
		if delay == 0 {
			delay = 500 * time.Millisecond
		}

		for {
			err := c.streamOnce(ctx, path, ch)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				// Server closed the stream cleanly; reconnect promptly.
				delay = c.config.RetryBaseDelay
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if c.config.RetryMaxDelay > 0 && delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}
	}()

	return ch, nil
}

// streamOnce runs a single SSE connection until it ends.
func (c *Client) streamOnce(ctx context.Context, path string, ch chan<- []ports.Change) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return errors.NewError(errors.CodeStore, "watch request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}

	return parseChangeStream(resp.Body, func(batch []ports.Change) {
		select {
		case ch <- batch:
		case <-ctx.Done():
		}
	})
}

// parseChangeStream reads data: lines off an SSE body and decodes each into
// a change batch.
func parseChangeStream(reader io.Reader, deliver func([]ports.Change)) error {
	scanner := newSSEScanner(reader)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		data, found := strings.CutPrefix(line, "data: ")
		if !found {
			continue
		}

		var wire []wireChange
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			return errors.NewError(errors.CodeStore, "failed to parse change batch", err)
		}

		batch := make([]ports.Change, 0, len(wire))
		for _, wc := range wire {
			batch = append(batch, ports.Change{
				Kind: ports.ChangeKind(wc.Kind),
				Doc:  toDocument(wc.Doc, wc.Doc.Path),
			})
		}
		if len(batch) > 0 {
			deliver(batch)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.NewError(errors.CodeStore, "error reading watch stream", err)
	}
	return nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry
// on transport errors, 429s and 5xx responses.
func (c *Client) doRequestWithRetry(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var lastErr error
	delay := c.config.RetryBaseDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if c.config.RetryMaxDelay > 0 && delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		req, err := c.newRequest(ctx, method, path, body)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = errors.NewError(errors.CodeStore, "request failed", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					delay = time.Duration(seconds) * time.Second
				}
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, errors.NewError(errors.CodeStore,
		fmt.Sprintf("request failed after %d attempts", c.config.MaxRetries+1), lastErr)
}

// newRequest creates an HTTP request with auth and content headers.
func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return nil, errors.NewError(errors.CodeStore, "failed to create request", err)
	}

	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.IDToken(ctx)
	if err != nil {
		return nil, errors.NewError(errors.CodeAuth, "failed to resolve bearer token", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return req, nil
}

// handleErrorResponse extracts error information from an error response.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewError(errors.CodeStore,
			fmt.Sprintf("HTTP %d: failed to read error response", resp.StatusCode), err)
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return errors.NewError(errors.CodeStore,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), nil)
	}

	errCode := errors.CodeStore
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		errCode = errors.CodeAuth
	case http.StatusNotFound:
		errCode = errors.CodeNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		errCode = errors.CodeValidation
	}

	return errors.NewError(errCode,
		fmt.Sprintf("HTTP %d: %s", resp.StatusCode, errResp.Error.Message), nil)
}

// queryParams renders a Query as URL parameters. Filters encode as
// where=field|op|jsonValue.
func queryParams(q ports.Query) string {
	values := url.Values{}
	for _, f := range q.Filters {
		encoded, err := json.Marshal(f.Value)
		if err != nil {
			continue
		}
		values.Add("where", f.Field+"|"+f.Op+"|"+string(encoded))
	}
	if q.OrderBy != "" {
		values.Set("orderBy", q.OrderBy)
		values.Set("asc", strconv.FormatBool(q.Ascending))
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

func toDocument(d wireDoc, fallbackPath string) ports.Document {
	path := d.Path
	if path == "" {
		path = fallbackPath
	}
	id := d.ID
	if id == "" {
		if idx := strings.LastIndex(path, "/"); idx >= 0 {
			id = path[idx+1:]
		}
	}
	data := d.Fields
	if data == nil {
		data = map[string]interface{}{}
	}
	return ports.Document{ID: id, Path: path, Data: data}
}
