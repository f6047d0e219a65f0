package session

import (
	"errors"
	"strings"
)

// Domain errors returned by Service. Anything else is an internal failure.
var (
	ErrInvalidCredentials         = errors.New("invalid email or password")
	ErrInvalidFederatedCredential = errors.New("invalid federated credential")
	ErrInvalidToken               = errors.New("invalid refresh token")
	ErrExpiredToken               = errors.New("refresh token expired")
	ErrUnconfirmedEmail           = errors.New("email not confirmed")
	ErrAccountDisabled            = errors.New("account disabled")
	ErrLockedOut                  = errors.New("account temporarily locked")
	ErrNotFound                   = errors.New("not found")
	ErrConflict                   = errors.New("email already registered")
	ErrInvalidCode                = errors.New("invalid or expired confirmation code")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError carries every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// IsValidation reports whether err is a *ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
