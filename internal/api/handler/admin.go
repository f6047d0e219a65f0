package handler

import (
	"net/http"

	"github.com/tutorlink/identity/internal/api/middleware"
	"github.com/tutorlink/identity/internal/api/response"
	"github.com/tutorlink/identity/internal/api/validation"
	"github.com/tutorlink/identity/internal/promotion"
	"github.com/tutorlink/identity/internal/session"
)

type updateRoleRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// AdminHandler handles the /api/admin user management endpoints.
type AdminHandler struct {
	promotions *promotion.Service
	sessions   *session.Service
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(promotions *promotion.Service, sessions *session.Service) *AdminHandler {
	return &AdminHandler{promotions: promotions, sessions: sessions}
}

// UpdateRole handles POST /api/admin/update-role.
func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	claims := middleware.GetClaims(r.Context())

	var req updateRoleRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}

	fieldErrors := validation.ValidateUpdateRoleRequest(validation.UpdateRoleRequest{Email: req.Email, Role: req.Role})
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	entry, err := h.promotions.ChangeRole(r.Context(), req.Email, req.Role, claims.SubjectID())
	if err != nil {
		writeError(w, err, "update role", requestID)
		return
	}

	response.Success(w, http.StatusOK, toAuditEntryResponse(entry), requestID)
}

// RoleHistory handles GET /api/admin/users/{id}/role-history.
func (h *AdminHandler) RoleHistory(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := parseIDParam(w, r, requestID)
	if !ok {
		return
	}

	entries, err := h.promotions.History(r.Context(), id)
	if err != nil {
		writeError(w, err, "list role history", requestID)
		return
	}

	items := make([]auditEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, toAuditEntryResponse(&entries[i]))
	}
	response.SuccessList(w, http.StatusOK, items, len(items), requestID)
}

// SetActive handles PUT /api/admin/users/{id}/active. Disabling a user
// revokes all of their refresh tokens.
func (h *AdminHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := parseIDParam(w, r, requestID)
	if !ok {
		return
	}

	var req setActiveRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}

	if fieldErrors := validation.ValidateSetActiveRequest(req.Active); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	if err := h.sessions.SetActive(r.Context(), id, *req.Active); err != nil {
		writeError(w, err, "update user status", requestID)
		return
	}

	if *req.Active {
		response.OK(w, "User enabled", requestID)
		return
	}
	response.OK(w, "User disabled", requestID)
}
