package relay

import "fmt"

// ValidationError reports caller input the relay refuses to forward. Message is
// safe to return to the caller.
type ValidationError struct {
	Message string
	// TooLarge marks size-limit rejections.
	TooLarge bool
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UpstreamError wraps a failure of a collaborator (document extraction or the
// completion API). Message is the static text shown to callers; Err is for the
// server log only.
type UpstreamError struct {
	Op      string
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
