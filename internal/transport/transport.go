// Package transport carries chat requests to the remote service.
//
// A Transport returns whatever status and bytes the service produced; only
// pure network failures and configuration problems are returned as errors.
// Interpreting the bytes is left to backend.Interpret.
package transport

import (
	"context"

	"ChatCore/internal/backend"
)

// Response is the raw outcome of a call
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport sends a chat request. Cancelling ctx cancels the in-flight call;
// implementations must return promptly once ctx is done, since a session
// accepts a new turn as soon as it is reset.
type Transport interface {
	Send(ctx context.Context, body backend.ChatRequestBody) (Response, error)
}

// Func adapts a function to the Transport interface
type Func func(ctx context.Context, body backend.ChatRequestBody) (Response, error)

// Send calls f
func (f Func) Send(ctx context.Context, body backend.ChatRequestBody) (Response, error) {
	return f(ctx, body)
}
