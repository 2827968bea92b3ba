package quicengine

import "fmt"

// Status is the result code of an engine operation or event dispatch.
type Status int32

const (
	// StatusSuccess indicates the operation or event was handled completely.
	StatusSuccess Status = iota

	// StatusPending indicates the operation was accepted and will complete
	// asynchronously via an event, or that an event is being consumed
	// asynchronously by its handler.
	StatusPending

	// StatusAborted indicates the operation was cut short by a local or
	// peer-initiated abort.
	StatusAborted

	// StatusInvalidState indicates the operation is not valid in the
	// stream's or connection's current state.
	StatusInvalidState

	// StatusConnectionClosed indicates the owning connection is gone.
	StatusConnectionClosed

	// StatusInternalError indicates an unexpected engine failure.
	StatusInternalError
)

var statusTexts = map[Status]string{
	StatusSuccess:          "success",
	StatusPending:          "pending",
	StatusAborted:          "aborted",
	StatusInvalidState:     "invalid state",
	StatusConnectionClosed: "connection closed",
	StatusInternalError:    "internal error",
}

func (s Status) String() string {
	if text, ok := statusTexts[s]; ok {
		return text
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Succeeded reports whether the status is a non-failure code.
func (s Status) Succeeded() bool {
	return s == StatusSuccess || s == StatusPending
}

// Failed reports whether the status is a failure code.
func (s Status) Failed() bool {
	return !s.Succeeded()
}

// Err returns an error describing a failure status, or nil.
func (s Status) Err() error {
	if s.Succeeded() {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError wraps a failure Status as an error.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return "quicengine: " + e.Status.String()
}
