package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tutorlink/identity/internal/api/middleware"
	"github.com/tutorlink/identity/internal/api/response"
	"github.com/tutorlink/identity/internal/promotion"
)

type tutorRequestResponse struct {
	ID         string  `json:"id"`
	UserID     string  `json:"userId"`
	Status     string  `json:"status"`
	ReviewedBy *string `json:"reviewedBy,omitempty"`
	CreatedAt  string  `json:"createdAt"`
	UpdatedAt  string  `json:"updatedAt"`
}

type auditEntryResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	OldRole   string `json:"oldRole"`
	NewRole   string `json:"newRole"`
	ActorID   string `json:"actorId"`
	ChangedAt string `json:"changedAt"`
}

// TutorRequestHandler handles tutor request endpoints.
type TutorRequestHandler struct {
	promotions *promotion.Service
}

// NewTutorRequestHandler creates a new TutorRequestHandler.
func NewTutorRequestHandler(promotions *promotion.Service) *TutorRequestHandler {
	return &TutorRequestHandler{promotions: promotions}
}

// Apply handles POST /api/tutor-requests for the authenticated caller.
func (h *TutorRequestHandler) Apply(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	claims := middleware.GetClaims(r.Context())

	req, err := h.promotions.Apply(r.Context(), claims.SubjectID())
	if err != nil {
		writeError(w, err, "file tutor request", requestID)
		return
	}

	response.Success(w, http.StatusCreated, toTutorRequestResponse(req), requestID)
}

// ListPending handles GET /api/admin/tutor-requests.
func (h *TutorRequestHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	requests, err := h.promotions.ListPending(r.Context())
	if err != nil {
		writeError(w, err, "list tutor requests", requestID)
		return
	}

	items := make([]tutorRequestResponse, 0, len(requests))
	for i := range requests {
		items = append(items, toTutorRequestResponse(&requests[i]))
	}
	response.SuccessList(w, http.StatusOK, items, len(items), requestID)
}

// Approve handles PUT /api/admin/tutor-requests/{id}/approve, promoting the
// requester to Teacher.
func (h *TutorRequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	claims := middleware.GetClaims(r.Context())

	id, ok := parseIDParam(w, r, requestID)
	if !ok {
		return
	}

	if _, err := h.promotions.PromoteToTeacher(r.Context(), id, claims.SubjectID()); err != nil {
		writeError(w, err, "approve tutor request", requestID)
		return
	}

	response.OK(w, "User promoted to Teacher", requestID)
}

// Reject handles PUT /api/admin/tutor-requests/{id}/reject.
func (h *TutorRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	claims := middleware.GetClaims(r.Context())

	id, ok := parseIDParam(w, r, requestID)
	if !ok {
		return
	}

	req, err := h.promotions.Reject(r.Context(), id, claims.SubjectID())
	if err != nil {
		writeError(w, err, "reject tutor request", requestID)
		return
	}

	response.Success(w, http.StatusOK, toTutorRequestResponse(req), requestID)
}

func toTutorRequestResponse(req *promotion.TutorRequest) tutorRequestResponse {
	resp := tutorRequestResponse{
		ID:        req.ID.String(),
		UserID:    req.IdentityID.String(),
		Status:    string(req.Status),
		CreatedAt: formatTime(req.CreatedAt),
		UpdatedAt: formatTime(req.UpdatedAt),
	}
	if req.ReviewedBy != nil {
		reviewer := req.ReviewedBy.String()
		resp.ReviewedBy = &reviewer
	}
	return resp
}

func toAuditEntryResponse(e *promotion.AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:        e.ID.String(),
		UserID:    e.IdentityID.String(),
		OldRole:   string(e.OldRole),
		NewRole:   string(e.NewRole),
		ActorID:   e.ActorID.String(),
		ChangedAt: formatTime(e.ChangedAt),
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", requestID)
		return uuid.Nil, false
	}
	return id, true
}
