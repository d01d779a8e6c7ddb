// Package tools holds the registry that mediates between LLM tool-call output
// and the task store. Every handler validates its own arguments and returns a
// structured Result; failures never cross the dispatch boundary as Go errors
// or panics.
package tools

// Error kinds carried in error results.
const (
	ErrUnknownTool    = "UnknownTool"
	ErrHandlerFailure = "HandlerFailure"
	ErrNotFound       = "NotFoundError"
	ErrAuthentication = "AuthenticationError"
	ErrValidation     = "ValidationError"
	ErrDatabase       = "DatabaseError"
)

// Result is the uniform outcome of a tool dispatch: either a success payload
// or an error kind plus message, never both.
type Result struct {
	OK      bool           `json:"ok"`
	Payload map[string]any `json:"payload,omitempty"`
	ErrKind string         `json:"error_kind,omitempty"`
	Message string         `json:"message,omitempty"`
}

func Success(payload map[string]any) Result {
	return Result{OK: true, Payload: payload}
}

func Failure(kind, message string) Result {
	return Result{OK: false, ErrKind: kind, Message: message}
}
