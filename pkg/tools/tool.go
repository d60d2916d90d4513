// Package tools runs remote-requested tool invocations as background jobs
// and feeds their results back into the live session.
package tools

import (
	"context"
	"time"
)

// Tool represents a function the model can invoke during a session.
type Tool struct {
	// Name is the unique identifier for the tool (e.g., "generate_code").
	Name string `json:"name"`

	// Description explains what the tool does, helping the model decide when to use it.
	Description string `json:"description"`

	// Parameters is the JSON schema of the tool's arguments.
	Parameters map[string]any `json:"parameters"`

	// Handler runs the job. It may take a long time; it runs on its own
	// goroutine and must honor ctx.
	Handler func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Call is an invocation request received from the remote side.
type Call struct {
	// ID is opaque and echoed back verbatim in the response.
	ID string

	// Name is the tool being invoked.
	Name string

	// Args contains the structured arguments.
	Args map[string]any
}

// Status is the lifecycle stage of an invocation.
type Status int

const (
	StatusPending Status = iota
	StatusDispatched
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDispatched:
		return "dispatched"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether the invocation still has a job running.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusDispatched
}

// Invocation is the dispatcher's record of one call.
type Invocation struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
	Status     Status         `json:"status"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// Response is the result delivered back to the remote side.
type Response struct {
	ID     string
	Name   string
	Output map[string]any
}

// Responder delivers tool responses into the live session.
type Responder interface {
	SendToolResponse(ctx context.Context, resp Response) error
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, resp Response) error

// SendToolResponse calls f.
func (f ResponderFunc) SendToolResponse(ctx context.Context, resp Response) error {
	return f(ctx, resp)
}
