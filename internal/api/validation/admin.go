package validation

import (
	"strings"

	"github.com/tutorlink/identity/internal/identity"
)

// UpdateRoleRequest mirrors the fields needed for role update validation.
type UpdateRoleRequest struct {
	Email string
	Role  string
}

// ValidateUpdateRoleRequest validates the fields of an admin role update.
func ValidateUpdateRoleRequest(req UpdateRoleRequest) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(req.Email) == "" {
		errs = append(errs, FieldError{Field: "email", Message: "email is required"})
	}

	if req.Role == "" {
		errs = append(errs, FieldError{Field: "role", Message: "role is required"})
	} else if _, ok := identity.ParseRole(req.Role); !ok {
		errs = append(errs, FieldError{Field: "role", Message: "role must be one of: User, Teacher, Admin"})
	}

	return errs
}

// ValidateSetActiveRequest requires the active flag to be present.
func ValidateSetActiveRequest(active *bool) []FieldError {
	if active == nil {
		return []FieldError{{Field: "active", Message: "active is required"}}
	}
	return nil
}
