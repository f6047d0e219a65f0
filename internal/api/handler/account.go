package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlink/identity/internal/api/middleware"
	"github.com/tutorlink/identity/internal/api/response"
	"github.com/tutorlink/identity/internal/api/validation"
	"github.com/tutorlink/identity/internal/identity"
	"github.com/tutorlink/identity/internal/session"
)

const timeFormat = "2006-01-02T15:04:05Z"

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	DisplayName     string `json:"displayName"`
}

type registerResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type googleLoginRequest struct {
	Credential string `json:"credential"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type userResponse struct {
	ID             string  `json:"id"`
	Email          string  `json:"email"`
	DisplayName    string  `json:"displayName"`
	AvatarURL      *string `json:"avatarUrl,omitempty"`
	EmailConfirmed bool    `json:"emailConfirmed"`
}

type authResponse struct {
	AccessToken           string       `json:"accessToken"`
	AccessTokenExpiresAt  string       `json:"accessTokenExpiresAt"`
	RefreshToken          string       `json:"refreshToken"`
	RefreshTokenExpiresAt string       `json:"refreshTokenExpiresAt"`
	RememberMe            bool         `json:"rememberMe"`
	User                  userResponse `json:"user"`
	Role                  string       `json:"role"`
	Roles                 []string     `json:"roles"`
}

type refreshResponse struct {
	AccessToken           string `json:"accessToken"`
	AccessTokenExpiresAt  string `json:"accessTokenExpiresAt"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresAt string `json:"refreshTokenExpiresAt"`
	Role                  string `json:"role"`
}

type meResponse struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Role      string   `json:"role"`
	Roles     []string `json:"roles"`
	ExpiresAt string   `json:"expiresAt"`
}

type sessionResponse struct {
	ID        string `json:"id"`
	IssuedAt  string `json:"issuedAt"`
	ExpiresAt string `json:"expiresAt"`
}

type logoutAllResponse struct {
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}

// AccountHandler handles the /api/account endpoints.
type AccountHandler struct {
	sessions *session.Service
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(sessions *session.Service) *AccountHandler {
	return &AccountHandler{sessions: sessions}
}

// Register handles POST /api/account/register.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req registerRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}

	result, err := h.sessions.Register(r.Context(), session.RegisterInput{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		DisplayName:     req.DisplayName,
	})
	if err != nil {
		writeError(w, err, "register", requestID)
		return
	}

	response.Success(w, http.StatusOK, registerResponse{
		Message: "Registration successful. Check your email to confirm your account.",
		UserID:  result.IdentityID.String(),
	}, requestID)
}

// ConfirmEmail handles GET /api/account/confirm-email?userId&code.
func (h *AccountHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	userID := r.URL.Query().Get("userId")
	code := r.URL.Query().Get("code")

	if fieldErrors := validation.ValidateConfirmEmailQuery(userID, code); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	id, _ := uuid.Parse(userID) // already validated

	if err := h.sessions.ConfirmEmail(r.Context(), id, code); err != nil {
		writeError(w, err, "confirm email", requestID)
		return
	}

	response.OK(w, "Email confirmed", requestID)
}

// Login handles POST /api/account/login.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req loginRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}

	fieldErrors := validation.ValidateLoginRequest(validation.LoginRequest{Email: req.Email, Password: req.Password})
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	result, err := h.sessions.Login(r.Context(), session.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		writeError(w, err, "log in", requestID)
		return
	}

	resp := toAuthResponse(result)
	resp.RememberMe = req.RememberMe
	response.Success(w, http.StatusOK, resp, requestID)
}

// LoginGoogle handles POST /api/account/login-google.
func (h *AccountHandler) LoginGoogle(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req googleLoginRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}

	if fieldErrors := validation.ValidateRequired("credential", req.Credential); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	result, err := h.sessions.LoginFederated(r.Context(), req.Credential)
	if err != nil {
		writeError(w, err, "log in with Google", requestID)
		return
	}

	response.Success(w, http.StatusOK, toAuthResponse(result), requestID)
}

// Refresh handles POST /api/account/refresh-token. Both the new access token
// and the new refresh token are returned; the presented one is consumed.
func (h *AccountHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req tokenRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}

	if fieldErrors := validation.ValidateRequired("token", req.Token); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	result, err := h.sessions.RefreshSession(r.Context(), req.Token)
	if err != nil {
		writeError(w, err, "refresh session", requestID)
		return
	}

	response.Success(w, http.StatusOK, refreshResponse{
		AccessToken:           result.AccessToken,
		AccessTokenExpiresAt:  formatTime(result.AccessTokenExpiresAt),
		RefreshToken:          result.RefreshToken,
		RefreshTokenExpiresAt: formatTime(result.RefreshTokenExpiresAt),
		Role:                  string(result.Role),
	}, requestID)
}

// Logout handles POST /api/account/logout.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req tokenRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}

	if fieldErrors := validation.ValidateRequired("token", req.Token); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	if err := h.sessions.Logout(r.Context(), req.Token); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Refresh token not found", requestID)
			return
		}
		writeError(w, err, "log out", requestID)
		return
	}

	response.OK(w, "Logged out", requestID)
}

// LogoutAll handles POST /api/account/logout-all for the authenticated caller.
func (h *AccountHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	claims := middleware.GetClaims(r.Context())

	n, err := h.sessions.LogoutAll(r.Context(), claims.SubjectID())
	if err != nil {
		writeError(w, err, "log out everywhere", requestID)
		return
	}

	response.Success(w, http.StatusOK, logoutAllResponse{Message: "All sessions revoked", Revoked: n}, requestID)
}

// Me handles GET /api/account/me. The answer comes from the token alone.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	claims := middleware.GetClaims(r.Context())

	resp := meResponse{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  claims.Role,
		Roles: claims.Roles,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = formatTime(claims.ExpiresAt.Time)
	}
	response.Success(w, http.StatusOK, resp, requestID)
}

// Sessions handles GET /api/account/sessions.
func (h *AccountHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	claims := middleware.GetClaims(r.Context())

	active, err := h.sessions.Sessions(r.Context(), claims.SubjectID())
	if err != nil {
		writeError(w, err, "list sessions", requestID)
		return
	}

	items := make([]sessionResponse, 0, len(active))
	for _, s := range active {
		items = append(items, sessionResponse{
			ID:        s.ID.String(),
			IssuedAt:  formatTime(s.IssuedAt),
			ExpiresAt: formatTime(s.ExpiresAt),
		})
	}
	response.SuccessList(w, http.StatusOK, items, len(items), requestID)
}

func toAuthResponse(result *session.AuthResult) authResponse {
	return authResponse{
		AccessToken:           result.AccessToken,
		AccessTokenExpiresAt:  formatTime(result.AccessTokenExpiresAt),
		RefreshToken:          result.RefreshToken,
		RefreshTokenExpiresAt: formatTime(result.RefreshTokenExpiresAt),
		User: userResponse{
			ID:             result.User.ID.String(),
			Email:          result.User.Email,
			DisplayName:    result.User.DisplayName,
			AvatarURL:      result.User.AvatarURL,
			EmailConfirmed: result.User.EmailConfirmed,
		},
		Role:  string(result.Role),
		Roles: roleNames(result.Roles),
	}
}

func roleNames(roles []identity.Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	return names
}

// decodeJSON reads a bounded JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, requestID string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return false
	}
	return true
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
