package ports

import (
	"context"

	"github.com/jbctechsolutions/petsync/internal/domain/chat"
)

// CompletionRequest is a streaming chat completion submission to the local
// agent gateway.
type CompletionRequest struct {
	Model    string
	Messages []chat.Turn
	User     string
}

// CompletionStreamer submits conversation history to the local gateway and
// delivers content deltas as they arrive. The callback is invoked once per
// delta; returning an error aborts the stream and closes the underlying
// response.
type CompletionStreamer interface {
	Stream(ctx context.Context, req CompletionRequest, deliver func(delta string) error) error
}

// GatewayController restarts the local agent gateway process.
type GatewayController interface {
	Restart(ctx context.Context) error
}
