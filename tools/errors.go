package tools

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrDuplicateTool is returned when a tool with the same name is already registered.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrUnknownTool is returned when a tool is not registered.
	ErrUnknownTool = errors.New("tool not found")
	// ErrInvalidArguments is returned when the call arguments do not match the input schema.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// ToolExecutionError is a failure of a single tool call.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

// NewToolExecutionError returns ToolExecutionError for the call.
func NewToolExecutionError(tool, callID string, err error) *ToolExecutionError {
	return &ToolExecutionError{
		Tool:   tool,
		CallID: callID,
		Err:    err,
	}
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

func invalidArguments(format string, args ...any) error {
	return errors.Mark(errors.Newf("invalid arguments: "+format, args...), ErrInvalidArguments)
}
