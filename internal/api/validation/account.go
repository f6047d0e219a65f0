package validation

import (
	"strings"

	"github.com/google/uuid"
)

// LoginRequest mirrors the fields needed for login validation.
type LoginRequest struct {
	Email    string
	Password string
}

// ValidateLoginRequest checks that both credentials are present. Password
// rules are not re-checked at login.
func ValidateLoginRequest(req LoginRequest) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(req.Email) == "" {
		errs = append(errs, FieldError{Field: "email", Message: "email is required"})
	}
	if req.Password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "password is required"})
	}

	return errs
}

// ValidateRequired reports a single missing string field.
func ValidateRequired(field, value string) []FieldError {
	if strings.TrimSpace(value) == "" {
		return []FieldError{{Field: field, Message: field + " is required"}}
	}
	return nil
}

// ValidateConfirmEmailQuery validates the userId and code query parameters.
func ValidateConfirmEmailQuery(userID, code string) []FieldError {
	var errs []FieldError

	if userID == "" {
		errs = append(errs, FieldError{Field: "userId", Message: "userId is required"})
	} else if _, err := uuid.Parse(userID); err != nil {
		errs = append(errs, FieldError{Field: "userId", Message: "userId must be a valid UUID"})
	}

	errs = append(errs, ValidateRequired("code", code)...)

	return errs
}
