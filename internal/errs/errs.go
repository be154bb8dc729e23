package errs

import (
	"errors"
	"fmt"
)

// Таксономия ошибок домена. Проверять через errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyAssigned   = errors.New("ticket already assigned")
	ErrInvalidState      = errors.New("invalid ticket state")
	ErrTransport         = errors.New("transport error")
	ErrRelayTimeout      = errors.New("relay timeout")
	ErrUnauthorized      = errors.New("unauthorized")

	// ErrTicketNotFound kept for callers that match on the ticket-specific name.
	ErrTicketNotFound = fmt.Errorf("ticket %w", ErrNotFound)
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func InvalidTransition(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Code возвращает короткий машиночитаемый код ошибки (для error-фреймов и JSON-ответов).
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrRelayTimeout):
		return "relay_timeout"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal_error"
	}
}
