package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tutorlink/identity/internal/api/response"
	"github.com/tutorlink/identity/internal/api/validation"
	"github.com/tutorlink/identity/internal/promotion"
	"github.com/tutorlink/identity/internal/session"
)

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

var sessionErrors = []errorMapping{
	{session.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"},
	{session.ErrUnconfirmedEmail, http.StatusUnauthorized, "EMAIL_NOT_CONFIRMED", "Email address has not been confirmed"},
	{session.ErrAccountDisabled, http.StatusUnauthorized, "ACCOUNT_DISABLED", "Account is disabled"},
	{session.ErrLockedOut, http.StatusUnauthorized, "LOCKED_OUT", "Too many failed attempts, try again later"},
	{session.ErrInvalidFederatedCredential, http.StatusUnauthorized, "INVALID_CREDENTIAL", "Invalid federated credential"},
	{session.ErrExpiredToken, http.StatusUnauthorized, "TOKEN_EXPIRED", "Refresh token has expired"},
	{session.ErrInvalidToken, http.StatusBadRequest, "INVALID_TOKEN", "Invalid refresh token"},
	{session.ErrInvalidCode, http.StatusBadRequest, "INVALID_CODE", "Invalid or expired confirmation code"},
	{session.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Not found"},
	{session.ErrConflict, http.StatusConflict, "CONFLICT", "Email is already registered"},
}

var promotionErrors = []errorMapping{
	{promotion.ErrRequestNotFound, http.StatusNotFound, "NOT_FOUND", "Tutor request not found"},
	{promotion.ErrIdentityNotFound, http.StatusNotFound, "NOT_FOUND", "User not found"},
	{promotion.ErrRequestNotPending, http.StatusConflict, "CONFLICT", "Tutor request has already been reviewed"},
	{promotion.ErrPendingRequestExists, http.StatusConflict, "CONFLICT", "A pending tutor request already exists"},
	{promotion.ErrAlreadyPromoted, http.StatusConflict, "CONFLICT", "User is already a teacher or admin"},
	{promotion.ErrRoleUnchanged, http.StatusConflict, "CONFLICT", "User already has this role"},
	{promotion.ErrInvalidRole, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown role"},
}

// writeError maps a domain error to its status and code. Anything
// unrecognised is logged and reported as a generic 500.
func writeError(w http.ResponseWriter, err error, action, requestID string) {
	if ve, ok := session.IsValidation(err); ok {
		details := make([]validation.FieldError, 0, len(ve.Fields))
		for _, f := range ve.Fields {
			details = append(details, validation.FieldError{Field: f.Field, Message: f.Message})
		}
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", details, requestID)
		return
	}

	for _, table := range [][]errorMapping{sessionErrors, promotionErrors} {
		for _, m := range table {
			if errors.Is(err, m.err) {
				response.Err(w, m.status, m.code, m.message, requestID)
				return
			}
		}
	}

	slog.Error("request failed", "action", action, "error", err, "requestId", requestID)
	response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action, requestID)
}
