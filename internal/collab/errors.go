package collab

import "fmt"

const (
	CodeValidation  = "VALIDATION_ERROR"
	CodePermission  = "PERMISSION_DENIED"
	CodePersistence = "PERSISTENCE_ERROR"
	CodeNotJoined   = "NOT_JOINED"
)

// OpError is an operation failure surfaced to the originating connection as
// an operation-error event. Nothing else ever reaches the client as an error.
type OpError struct {
	Code    string
	Message string
}

func (e *OpError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func opError(code, message string) *OpError {
	return &OpError{Code: code, Message: message}
}
