package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure for retry decisions.
type Kind string

const (
	// KindNetwork covers connection-level failures: unreachable host,
	// reset, timeout. Retryable.
	KindNetwork Kind = "network"
	// KindServer covers HTTP 5xx responses. Retryable.
	KindServer Kind = "server"
	// KindClient covers HTTP 4xx responses. The request itself is at
	// fault; retrying cannot help.
	KindClient Kind = "client"
	// KindCapability marks the bridge channel reporting it cannot deliver
	// at all. It cues the one-time fallback to the standard channel and
	// never escapes Send.
	KindCapability Kind = "capability"
)

// Error is the transport failure type surfaced by Send.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Status != 0:
		return fmt.Sprintf("transport: %s error (status %d): %s", e.Kind, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("transport: %s error: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("transport: %s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("transport: %s error", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt can change the outcome.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// IsRetryable reports whether err is a retryable transport error.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

func isCapability(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindCapability
}
