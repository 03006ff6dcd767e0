package fault

import "fmt"

// Kind classifies a rejected operation. Every rejection carries exactly one
// kind so callers can react without parsing messages.
type Kind string

const (
	StaleOrInvalidState   Kind = "stale_or_invalid_state"
	AuthorizationMismatch Kind = "authorization_mismatch"
	RateMismatch          Kind = "rate_mismatch"
	InsufficientFunds     Kind = "insufficient_funds"
	InvalidCoordinate     Kind = "invalid_coordinate"
	AlreadyInitialized    Kind = "already_initialized"
	NotYetInitialized     Kind = "not_yet_initialized"
	FrozenAccount         Kind = "frozen_account"
	IntegrityFault        Kind = "integrity_fault"
)

// Error is a rejection detected before any mutation was applied.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e Error) Error() string { return e.Message }

func New(kind Kind, format string, args ...any) Error {
	return Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func With(kind Kind, details map[string]any, format string, args ...any) Error {
	return Error{Kind: kind, Message: fmt.Sprintf(format, args...), Details: details}
}

// StaleState reports a transition attempted from a status that forbids it.
func StaleState(op, status string) Error {
	return With(StaleOrInvalidState, map[string]any{"status": status}, "%s not allowed while job is %s", op, status)
}
