package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/tutorlink/identity/internal/api/middleware"
	"github.com/tutorlink/identity/internal/api/response"
)

// DBPinger checks database connectivity.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	dbPinger DBPinger
	storage  string
	version  string
}

// NewHealthHandler creates a new HealthHandler. pinger is nil when the
// service runs on in-memory storage.
func NewHealthHandler(pinger DBPinger, storage, version string) *HealthHandler {
	return &HealthHandler{
		dbPinger: pinger,
		storage:  storage,
		version:  version,
	}
}

type databaseStatus struct {
	Connected bool `json:"connected"`
}

type healthData struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Storage  string          `json:"storage"`
	Database *databaseStatus `json:"database,omitempty"`
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	data := healthData{
		Status:  "healthy",
		Version: h.version,
		Storage: h.storage,
	}

	if h.dbPinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		connected := h.dbPinger.Ping(ctx) == nil
		data.Database = &databaseStatus{Connected: connected}
		if !connected {
			data.Status = "degraded"
		}
	}

	response.Success(w, http.StatusOK, data, requestID)
}
