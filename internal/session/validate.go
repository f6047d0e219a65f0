package session

import (
	netmail "net/mail"
	"strings"
	"unicode"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
	maxEmailLength    = 254
	maxDisplayName    = 100
)

func validateRegistration(in RegisterInput) []FieldError {
	var errs []FieldError

	errs = append(errs, validateEmail(in.Email)...)
	errs = append(errs, validatePassword(in.Password)...)

	if in.ConfirmPassword != in.Password {
		errs = append(errs, FieldError{Field: "confirmPassword", Message: "passwords do not match"})
	}

	if len(strings.TrimSpace(in.DisplayName)) > maxDisplayName {
		errs = append(errs, FieldError{Field: "displayName", Message: "displayName must be at most 100 characters"})
	}

	return errs
}

func validateEmail(email string) []FieldError {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		return []FieldError{{Field: "email", Message: "email is required"}}
	case len(email) > maxEmailLength:
		return []FieldError{{Field: "email", Message: "email must be at most 254 characters"}}
	}

	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return []FieldError{{Field: "email", Message: "email must be a valid address"}}
	}
	return nil
}

// validatePassword requires a mixed-case password with at least one digit.
func validatePassword(password string) []FieldError {
	if password == "" {
		return []FieldError{{Field: "password", Message: "password is required"}}
	}
	if len(password) < minPasswordLength {
		return []FieldError{{Field: "password", Message: "password must be at least 8 characters"}}
	}
	if len(password) > maxPasswordLength {
		return []FieldError{{Field: "password", Message: "password must be at most 72 bytes"}}
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	var errs []FieldError
	if !upper {
		errs = append(errs, FieldError{Field: "password", Message: "password must contain an upper-case letter"})
	}
	if !lower {
		errs = append(errs, FieldError{Field: "password", Message: "password must contain a lower-case letter"})
	}
	if !digit {
		errs = append(errs, FieldError{Field: "password", Message: "password must contain a digit"})
	}
	return errs
}
