package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	"github.com/jbctechsolutions/petsync/internal/domain/errors"
)

// LoginRequestsCollection is where pending browser approvals live.
const LoginRequestsCollection = "loginRequests"

// LoginResult is the outcome of a completed pairing flow.
type LoginResult struct {
	Credentials *Credentials
	// Approved is true for the browser path, false for a typed code.
	Approved bool
}

// LoginFlow pairs this device interactively. It publishes a login request
// document, shows the approval URL, then waits for whichever finishes
// first: the browser approval arriving on a store subscription, or a
// pairing code typed at the prompt.
type LoginFlow struct {
	session  *Session
	store    ports.DocumentStore
	timeout  time.Duration
	printf   func(format string, args ...interface{})
	readCode func() (string, error)
}

// NewLoginFlow creates a login flow with the given timeout.
func NewLoginFlow(session *Session, store ports.DocumentStore, timeout time.Duration) *LoginFlow {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &LoginFlow{
		session:  session,
		store:    store,
		timeout:  timeout,
		printf:   func(format string, args ...interface{}) { fmt.Printf(format, args...) },
		readCode: promptCode,
	}
}

// Run executes the pairing flow for the given device.
func (f *LoginFlow) Run(ctx context.Context, deviceID, deviceName string, deviceInfo map[string]interface{}) (*LoginResult, error) {
	requestID, err := newRequestID()
	if err != nil {
		return nil, errors.NewError(errors.CodeAuth, "failed to generate request id", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	now := time.Now().UTC()
	requestPath := LoginRequestsCollection + "/" + requestID
	fields := map[string]interface{}{
		"deviceId":  deviceID,
		"status":    "pending",
		"createdAt": now.Format(time.RFC3339),
		"expiresAt": now.Add(f.timeout).Format(time.RFC3339),
	}
	for k, v := range deviceInfo {
		fields[k] = v
	}
	if err := f.store.Set(ctx, requestPath, fields); err != nil {
		return nil, err
	}
	defer f.store.Delete(context.Background(), requestPath)

	watch, err := f.store.Watch(ctx, requestPath)
	if err != nil {
		return nil, err
	}

	f.printf("\n  Device pairing\n\n")
	f.printf("  Open this URL in your browser:\n")
	f.printf("  %s/auth/device?requestId=%s\n\n", f.session.endpoints.ClientURL, requestID)
	f.printf("  Approving in the browser continues automatically.\n")
	f.printf("  Or type a pairing code below.\n\n")

	codeCh := make(chan string, 1)
	go func() {
		code, err := f.readCode()
		if err != nil {
			return
		}
		if code = strings.TrimSpace(code); code != "" {
			codeCh <- code
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, errors.NewError(errors.CodeAuth, "pairing timed out", ctx.Err())

		case code := <-codeCh:
			creds, err := f.session.ClaimDevice(ctx, code, deviceID, deviceInfo)
			if err != nil {
				return nil, err
			}
			creds.DeviceName = deviceName
			return &LoginResult{Credentials: creds, Approved: false}, nil

		case batch, ok := <-watch:
			if !ok {
				return nil, errors.NewError(errors.CodeAuth, "pairing subscription closed", nil)
			}
			for _, change := range batch {
				if change.Kind == ports.ChangeRemoved {
					continue
				}
				data := change.Doc.Data
				if data["status"] != "approved" {
					continue
				}
				refreshToken, _ := data["refreshToken"].(string)
				if refreshToken == "" {
					continue
				}
				uid, _ := data["uid"].(string)
				email, _ := data["email"].(string)

				creds := &Credentials{
					UID:          uid,
					Email:        email,
					DeviceID:     deviceID,
					DeviceName:   deviceName,
					RefreshToken: refreshToken,
					SavedAt:      time.Now().UTC().Format(time.RFC3339),
				}
				f.session.mu.Lock()
				f.session.creds = creds
				f.session.idToken = ""
				f.session.mu.Unlock()

				return &LoginResult{Credentials: creds, Approved: true}, nil
			}
		}
	}
}

func newRequestID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func promptCode() (string, error) {
	rl, err := readline.New("  Pairing code (waiting for approval...): ")
	if err != nil {
		return "", err
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		return "", err
	}
	return line, nil
}
