package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool is returned for calls naming a tool that is not registered.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrInvalidArgs is returned when arguments do not match the tool's schema.
	ErrInvalidArgs = errors.New("tools: invalid arguments")

	// ErrClosed is returned after the dispatcher was closed.
	ErrClosed = errors.New("tools: dispatcher closed")
)

// ToolJobError describes a failed job. It is reported to the remote side
// as a failed response rather than ending the session.
type ToolJobError struct {
	ID   string
	Name string
	Err  error
}

func (e *ToolJobError) Error() string {
	return fmt.Sprintf("tools: %s (%s): %v", e.Name, e.ID, e.Err)
}

func (e *ToolJobError) Unwrap() error {
	return e.Err
}
