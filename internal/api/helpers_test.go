package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	specpkg "github.com/tutorlink/identity/api"
	"github.com/tutorlink/identity/internal/api"
	"github.com/tutorlink/identity/internal/identity"
	"github.com/tutorlink/identity/internal/lockout"
	"github.com/tutorlink/identity/internal/mail"
	"github.com/tutorlink/identity/internal/metrics"
	"github.com/tutorlink/identity/internal/promotion"
	"github.com/tutorlink/identity/internal/refreshtoken"
	"github.com/tutorlink/identity/internal/session"
	"github.com/tutorlink/identity/internal/token"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "Adm1nSecret"
)

type capturingOutbox struct {
	mu   sync.Mutex
	sent map[string]mail.Confirmation
}

func (o *capturingOutbox) SendConfirmation(_ context.Context, c mail.Confirmation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[c.Email] = c
	return nil
}

func (o *capturingOutbox) last(email string) mail.Confirmation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent[email]
}

type testServer struct {
	router *chi.Mux
	outbox *capturingOutbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	signer, err := token.NewSigner(token.Options{
		Secret:   "0123456789abcdef0123456789abcdef",
		Issuer:   "tutorlink",
		Audience: "tutorlink-clients",
		TTL:      15 * time.Minute,
	})
	require.NoError(t, err)

	identities := identity.NewMemoryRepository()
	outbox := &capturingOutbox{sent: make(map[string]mail.Confirmation)}
	recorder := metrics.New()

	sessions, err := session.NewService(session.Deps{
		Identities: identities,
		Tokens:     refreshtoken.NewMemoryRepository(identities),
		Signer:     signer,
		Lockout:    lockout.NewMemoryTracker(lockout.Policy{MaxAttempts: 5, Window: 15 * time.Minute, Duration: 15 * time.Minute}),
		Outbox:     outbox,
		Metrics:    recorder,
	}, session.Options{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	_, err = sessions.BootstrapAdmin(context.Background(), adminEmail, adminPassword)
	require.NoError(t, err)

	promotions := promotion.NewService(promotion.NewMemoryRepository(identities), identities, recorder)

	router := api.NewRouter(api.RouterDeps{
		Storage:        "memory",
		Version:        "test",
		OpenAPISpec:    specpkg.OpenAPISpec,
		Sessions:       sessions,
		Promotions:     promotions,
		Signer:         signer,
		MetricsHandler: recorder.Handler(),
	})

	return &testServer{router: router, outbox: outbox}
}

// envelope is the decoded response body.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return w.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func errorCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

type authData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Role         string `json:"role"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

// signUp registers and confirms email, then logs in.
func (s *testServer) signUp(t *testing.T, email, password string) authData {
	t.Helper()

	status, env := s.do(t, http.MethodPost, "/api/account/register", "", map[string]string{
		"email": email, "password": password, "confirmPassword": password,
	})
	require.Equal(t, http.StatusOK, status, "register: %+v", env.Error)

	c := s.outbox.last(email)
	status, _ = s.do(t, http.MethodGet, "/api/account/confirm-email?userId="+c.IdentityID.String()+"&code="+c.Code, "", nil)
	require.Equal(t, http.StatusOK, status)

	return s.logIn(t, email, password)
}

func (s *testServer) logIn(t *testing.T, email, password string) authData {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/account/login", "", map[string]any{
		"email": email, "password": password, "rememberMe": false,
	})
	require.Equal(t, http.StatusOK, status, "login: %+v", env.Error)
	return decodeData[authData](t, env)
}
