package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"movie-auth/internal/domain"
	"movie-auth/internal/repository"
	"movie-auth/internal/service"
)

type failingUserRepo struct {
	err error
}

func (f *failingUserRepo) Create(context.Context, domain.User) (domain.User, error) {
	return domain.User{}, f.err
}

func (f *failingUserRepo) GetByEmail(context.Context, string) (domain.User, error) {
	return domain.User{}, f.err
}

func (f *failingUserRepo) Ping(context.Context) error {
	return f.err
}

type testAPI struct {
	router   *gin.Engine
	repo     repository.UserRepository
	registry *prometheus.Registry
	metrics  *Metrics
}

func setupAPI(t *testing.T, repo repository.UserRepository) testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if repo == nil {
		repo = repository.NewMemoryUserRepository()
	}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc, err := service.NewUserService(zap.NewNop(), repo, service.NewBcryptHasher(bcrypt.MinCost, 2), nil)
	if err != nil {
		t.Fatalf("new user service: %v", err)
	}
	h := NewUserHandler(zap.NewNop(), svc, metrics)
	r := NewRouter(zap.NewNop(), RouterOptions{
		CORSOrigin:     "*",
		RequestTimeout: 5 * time.Second,
		Metrics:        metrics,
		Gatherer:       reg,
	}, h)
	return testAPI{router: r, repo: repo, registry: reg, metrics: metrics}
}

func performRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type apiResponse struct {
	Type    string             `json:"type"`
	Error   string             `json:"error"`
	Message string             `json:"message"`
	User    *domain.PublicUser `json:"user"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json body %q: %v", rec.Body.String(), err)
	}
	return resp
}

var alice = map[string]string{"name": "Alice", "email": "a@x.com", "password": "secret1"}

func TestUserHandlerRegisterLoginFlow(t *testing.T) {
	api := setupAPI(t, nil)

	// Registro exitoso.
	rec := performRequest(api.router, http.MethodPost, "/register", alice)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	registered := decode(t, rec)
	if registered.Type != "success" || registered.User == nil {
		t.Fatalf("register: unexpected body %s", rec.Body.String())
	}
	if registered.User.ID == "" || registered.User.Name != "Alice" || registered.User.Email != "a@x.com" {
		t.Fatalf("register: unexpected user %+v", registered.User)
	}

	// Mismo email otra vez.
	rec = performRequest(api.router, http.MethodPost, "/register", map[string]string{
		"name": "Mallory", "email": "a@x.com", "password": "other",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected status 409, got %d", rec.Code)
	}
	if resp := decode(t, rec); resp.Type != "error" || resp.Error != "duplicate_email" {
		t.Fatalf("duplicate: unexpected body %s", rec.Body.String())
	}

	// Login correcto.
	rec = performRequest(api.router, http.MethodPost, "/login", map[string]string{
		"email": "a@x.com", "password": "secret1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected status 200, got %d", rec.Code)
	}
	loggedIn := decode(t, rec)
	if loggedIn.User == nil || *loggedIn.User != *registered.User {
		t.Fatalf("login: expected user %+v, got %+v", registered.User, loggedIn.User)
	}

	// Password incorrecto.
	wrong := performRequest(api.router, http.MethodPost, "/login", map[string]string{
		"email": "a@x.com", "password": "wrong",
	})
	if wrong.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected status 401, got %d", wrong.Code)
	}

	// Email desconocido, misma respuesta que password incorrecto.
	unknown := performRequest(api.router, http.MethodPost, "/login", map[string]string{
		"email": "nobody@x.com", "password": "secret1",
	})
	if unknown.Code != http.StatusUnauthorized {
		t.Fatalf("unknown email: expected status 401, got %d", unknown.Code)
	}
	if wrong.Body.String() != unknown.Body.String() {
		t.Fatalf("expected identical bodies, got %q and %q", wrong.Body.String(), unknown.Body.String())
	}
	if resp := decode(t, unknown); resp.Error != "invalid_credentials" || resp.Message != "Invalid credentials." {
		t.Fatalf("unknown email: unexpected body %s", unknown.Body.String())
	}

	if got := testutil.ToFloat64(api.metrics.outcomes.WithLabelValues(opLogin, kindInvalidCredentials)); got != 2 {
		t.Fatalf("expected 2 invalid_credentials outcomes, got %v", got)
	}
}

func TestUserHandlerRegister_InvalidInput(t *testing.T) {
	api := setupAPI(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{name: "empty object", body: map[string]string{}},
		{name: "missing password", body: map[string]string{"name": "A", "email": "a@x.com"}},
		{name: "blank name", body: map[string]string{"name": " ", "email": "a@x.com", "password": "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := performRequest(api.router, http.MethodPost, "/register", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
			resp := decode(t, rec)
			if resp.Error != "invalid_input" || resp.Message != "Name, email, and password are required." {
				t.Fatalf("unexpected body %s", rec.Body.String())
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("password too long", func(t *testing.T) {
		rec := performRequest(api.router, http.MethodPost, "/register", map[string]string{
			"name": "A", "email": "long@x.com", "password": strings.Repeat("p", 80),
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
		if resp := decode(t, rec); resp.Message != "Password must be at most 72 bytes." {
			t.Fatalf("unexpected message %q", resp.Message)
		}
	})
}

func TestUserHandlerLogin_InvalidInput(t *testing.T) {
	api := setupAPI(t, nil)

	rec := performRequest(api.router, http.MethodPost, "/login", map[string]string{"email": "a@x.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if resp := decode(t, rec); resp.Message != "Email and password are required for login." {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}

func TestUserHandlerRegister_FormEncoded(t *testing.T) {
	api := setupAPI(t, nil)

	form := url.Values{"name": {"Bob"}, "email": {"b@x.com"}, "password": {"pw"}}
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUserHandler_InfrastructureFailureIsOpaque(t *testing.T) {
	api := setupAPI(t, &failingUserRepo{err: errors.New("pq: password authentication failed for user root")})

	rec := performRequest(api.router, http.MethodPost, "/register", alice)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	resp := decode(t, rec)
	if resp.Error != "internal" || resp.Message != "Internal server error during registration." {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "pq:") {
		t.Fatalf("driver error leaked: %s", rec.Body.String())
	}

	rec = performRequest(api.router, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "pw"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	if resp := decode(t, rec); resp.Message != "Internal server error during login." {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}

func TestUserHandler_NoCredentialMaterialInResponses(t *testing.T) {
	repo := repository.NewMemoryUserRepository()
	api := setupAPI(t, repo)
	longPassword := strings.Repeat("L0ngSecret", 8)

	var bodies []string
	record := func(rec *httptest.ResponseRecorder) { bodies = append(bodies, rec.Body.String()) }

	record(performRequest(api.router, http.MethodPost, "/register", alice))
	record(performRequest(api.router, http.MethodPost, "/register", alice))
	record(performRequest(api.router, http.MethodPost, "/register", map[string]string{"email": "b@x.com", "password": "secret1"}))
	record(performRequest(api.router, http.MethodPost, "/register", map[string]string{"name": "L", "email": "l@x.com", "password": longPassword}))
	record(performRequest(api.router, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "secret1"}))
	record(performRequest(api.router, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "wrong"}))
	record(performRequest(api.router, http.MethodPost, "/login", map[string]string{"email": "zz@x.com", "password": "secret1"}))
	record(performRequest(api.router, http.MethodPost, "/login", map[string]string{"password": "secret1"}))

	stored, err := repo.GetByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("expected stored user: %v", err)
	}

	for _, body := range bodies {
		for _, secret := range []string{"secret1", "wrong", longPassword, stored.PasswordHash, "password_hash", "passwordHash"} {
			if strings.Contains(body, secret) {
				t.Fatalf("credential material %q leaked in %s", secret, body)
			}
		}
	}
}

func TestRouter_AuxiliaryRoutes(t *testing.T) {
	api := setupAPI(t, nil)

	rec := performRequest(api.router, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "Hello" {
		t.Fatalf("expected Hello, got %d %q", rec.Code, rec.Body.String())
	}

	rec = performRequest(api.router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rec.Code)
	}

	performRequest(api.router, http.MethodPost, "/register", alice)
	rec = performRequest(api.router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "movie_auth_auth_outcomes_total") {
		t.Fatalf("expected metrics exposition, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodOptions, "/register", nil)
	pre := httptest.NewRecorder()
	api.router.ServeHTTP(pre, req)
	if pre.Code != http.StatusNoContent || pre.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected cors preflight 204, got %d", pre.Code)
	}
}

func TestRouter_HealthzUnavailable(t *testing.T) {
	api := setupAPI(t, &failingUserRepo{err: errors.New("down")})

	rec := performRequest(api.router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestOutcomeFor_UnknownErrorsAreInternal(t *testing.T) {
	for _, err := range []error{service.ErrHashingUnavailable, service.ErrStoreUnavailable, context.DeadlineExceeded, errors.New("boom")} {
		out := outcomeFor(opRegister, err)
		if out.status != http.StatusInternalServerError || out.kind != kindInternal {
			t.Fatalf("expected internal outcome for %v, got %+v", err, out)
		}
	}
}
