package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/doorgate/internal/audit"
	"github.com/nerrad567/doorgate/internal/auth"
	"github.com/nerrad567/doorgate/internal/device"
	"github.com/nerrad567/doorgate/internal/events"
	"github.com/nerrad567/doorgate/internal/infrastructure/config"
	"github.com/nerrad567/doorgate/internal/infrastructure/database"
	"github.com/nerrad567/doorgate/internal/infrastructure/logging"
	"github.com/nerrad567/doorgate/migrations"
)

// fakeController stands in for the door controller's HTTP endpoint.
type fakeController struct {
	mu       sync.Mutex
	commands []string
	status   int
}

func (c *fakeController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, r.URL.Query().Get("cmd"))
	if c.status != 0 && c.status != http.StatusOK {
		w.WriteHeader(c.status)
		return
	}
	w.Write([]byte("OK")) //nolint:errcheck // test server
}

func (c *fakeController) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

// syncRecorder writes access logs immediately so tests can read them back.
type syncRecorder struct {
	repo audit.Repository
}

func (r syncRecorder) Record(e *audit.AccessLog) {
	r.repo.Create(context.Background(), e) //nolint:errcheck // test recorder
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("not connected") }

// testEnv bundles a server and its collaborators.
type testEnv struct {
	srv        *Server
	handler    http.Handler
	db         *database.DB
	users      *auth.SQLiteUserRepository
	codec      *auth.Codec
	tracker    *auth.LockoutTracker
	accessLogs *audit.SQLiteRepository
	controller *fakeController
}

type envOption func(*Deps)

func withRateLimit(rpm, burst int) envOption {
	return func(d *Deps) {
		d.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: rpm, Burst: burst}
	}
}

func withTrustProxy() envOption {
	return func(d *Deps) { d.Config.TrustProxy = true }
}

func withOptionalCheck(name string, hc HealthChecker) envOption {
	return func(d *Deps) {
		if d.Optional == nil {
			d.Optional = map[string]HealthChecker{}
		}
		d.Optional[name] = hc
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := database.Open(t.Context(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(t.Context(), migrations.FS))

	ctrl := &fakeController{}
	ctrlSrv := httptest.NewServer(ctrl)
	t.Cleanup(ctrlSrv.Close)
	u, err := url.Parse(ctrlSrv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	log := logging.Discard()
	users := auth.NewUserRepository(db.DB)
	codec := auth.NewCodec(auth.DefaultSaltLength)
	tracker := auth.NewLockoutTracker(auth.LockoutConfig{MaxAttempts: 5, Duration: time.Hour})
	sessions := auth.NewSessionAuthority(users)
	coord, err := auth.NewCoordinator(users, codec, tracker, sessions, auth.CoordinatorConfig{MinPasswordLength: 6}, log.Logger)
	require.NoError(t, err)

	accessLogs := audit.NewSQLiteRepository(db.DB)
	dispatcher := events.NewDispatcher(log.Logger, events.WithAccessLog(syncRecorder{repo: accessLogs}))

	relay := device.NewRelay(device.Config{Host: host, Port: port, Timeout: 2 * time.Second})
	relay.AddSink(dispatcher)

	deps := Deps{
		Config:      config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:      log,
		Coordinator: coord,
		Sessions:    sessions,
		Tracker:     tracker,
		Users:       users,
		Relay:       relay,
		AccessLogs:  accessLogs,
		Events:      dispatcher,
		Database:    db,
		Version:     "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	require.NoError(t, err)

	return &testEnv{
		srv:        srv,
		handler:    srv.Handler(),
		db:         db,
		users:      users,
		codec:      codec,
		tracker:    tracker,
		accessLogs: accessLogs,
		controller: ctrl,
	}
}

// request describes one call against the router.
type request struct {
	method   string
	path     string
	body     any
	token    string
	remoteIP string
	headers  map[string]string
}

func (e *testEnv) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if req.body != nil {
		if raw, ok := req.body.(string); ok {
			body.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&body).Encode(req.body))
		}
	}

	r := httptest.NewRequest(req.method, req.path, &body)
	r.Header.Set("Content-Type", "application/json")
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	if req.remoteIP != "" {
		r.RemoteAddr = net.JoinHostPort(req.remoteIP, "40000")
	}
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	return rec
}

// createUser stores an ACTIVE user with an encoded password.
func (e *testEnv) createUser(t *testing.T, username, password string, role auth.Role) *auth.User {
	t.Helper()
	cred, err := e.codec.Encode(password)
	require.NoError(t, err)
	u := &auth.User{Username: username, Credential: cred, Role: role, Status: auth.StatusActive}
	require.NoError(t, e.users.Create(t.Context(), u))
	return u
}

// login signs in and returns the token.
func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := e.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   loginRequest{Username: username, Password: password},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = New(Deps{Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, request{method: http.MethodGet, path: "/api/v1/health"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "ok", body["components"].(map[string]any)["database"])
}

func TestHealth_DegradedOptional(t *testing.T) {
	env := newTestEnv(t, withOptionalCheck("mqtt", failingCheck{}))

	rec := env.do(t, request{method: http.MethodGet, path: "/api/v1/health"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "not connected", body["components"].(map[string]any)["mqtt"])
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Close())

	rec := env.do(t, request{method: http.MethodGet, path: "/api/v1/health"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	env := newTestEnv(t)

	assert.Error(t, env.srv.HealthCheck(t.Context()), "not started")
	require.NoError(t, env.srv.Start(t.Context()))
	assert.NoError(t, env.srv.HealthCheck(t.Context()))
	assert.NoError(t, env.srv.Close())
}
