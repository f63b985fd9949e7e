package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratodash/strato/internal/auth"
	"github.com/stratodash/strato/internal/config"
	"github.com/stratodash/strato/internal/monitoring"
	"github.com/stratodash/strato/internal/websocket"
	"github.com/stratodash/strato/pkg/proxmox"
)

const (
	testAdminUser     = "admin"
	testAdminPassword = "correct-horse-battery"
)

// fakeProxmox satisfies monitoring.Client with canned responses.
type fakeProxmox struct {
	monitoring.Client
	host      string
	nodes     []proxmox.Node
	resources []proxmox.ClusterResource
	upid      string
	err       error
}

func (f *fakeProxmox) GetVersion(ctx context.Context) (*proxmox.VersionInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &proxmox.VersionInfo{Version: "8.2.4"}, nil
}

func (f *fakeProxmox) GetNodes(ctx context.Context) ([]proxmox.Node, error) {
	return f.nodes, f.err
}

func (f *fakeProxmox) GetClusterResources(ctx context.Context, kind string) ([]proxmox.ClusterResource, error) {
	return f.resources, f.err
}

func (f *fakeProxmox) GetNodeStatus(ctx context.Context, node string) (*proxmox.NodeStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &proxmox.NodeStatus{Uptime: 4242}, nil
}

func (f *fakeProxmox) GetNodeRRDData(ctx context.Context, node, timeframe string) ([]proxmox.RRDPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []proxmox.RRDPoint{{Time: 1700000000}}, nil
}

func (f *fakeProxmox) GetVMStatus(ctx context.Context, node string, vmid int) (*proxmox.VMStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &proxmox.VMStatus{VM: proxmox.VM{VMID: vmid, Status: "running"}, QMPStatus: "running"}, nil
}

func (f *fakeProxmox) GetVMRRDData(ctx context.Context, node string, vmid int, timeframe string) ([]proxmox.RRDPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []proxmox.RRDPoint{{Time: 1700000000}}, nil
}

func (f *fakeProxmox) task(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.upid, nil
}

func (f *fakeProxmox) StartVM(ctx context.Context, node string, vmid int) (string, error) {
	return f.task(ctx)
}
func (f *fakeProxmox) StopVM(ctx context.Context, node string, vmid int) (string, error) {
	return f.task(ctx)
}
func (f *fakeProxmox) ShutdownVM(ctx context.Context, node string, vmid int) (string, error) {
	return f.task(ctx)
}
func (f *fakeProxmox) RebootVM(ctx context.Context, node string, vmid int) (string, error) {
	return f.task(ctx)
}
func (f *fakeProxmox) SuspendVM(ctx context.Context, node string, vmid int) (string, error) {
	return f.task(ctx)
}
func (f *fakeProxmox) ResumeVM(ctx context.Context, node string, vmid int) (string, error) {
	return f.task(ctx)
}

func (f *fakeProxmox) GetTaskStatus(ctx context.Context, node, upid string) (*proxmox.TaskStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &proxmox.TaskStatus{UPID: upid, Node: node, Status: "stopped", ExitStatus: "OK"}, nil
}

func (f *fakeProxmox) Host() string { return f.host }

type testEnv struct {
	router http.Handler
	api    *Router
	store  *config.Store
	poller *monitoring.Poller
}

func newTestEnv(t *testing.T, fake *fakeProxmox) *testEnv {
	t.Helper()

	cfg := &config.Config{
		StaticDir:         t.TempDir(),
		SessionSecret:     "0123456789abcdef0123456789abcdef",
		AdminUser:         testAdminUser,
		AdminPassword:     testAdminPassword,
		PollingInterval:   time.Minute,
		ConnectionTimeout: time.Second,
	}

	store, err := config.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens, err := auth.NewTokenManager([]byte(cfg.SessionSecret))
	require.NoError(t, err)

	poller := monitoring.NewPoller(store, nil, time.Minute, func(conn config.Connection) (monitoring.Client, error) {
		if fake == nil {
			return &fakeProxmox{host: conn.Host}, nil
		}
		return fake, nil
	})

	hub := websocket.NewHub(nil)
	router := NewRouter(cfg, store, poller, hub, tokens, "1.0.0-test")
	router.fetchFingerprint = func(host string) (string, error) {
		return "", errors.New("fingerprint fetch unavailable")
	}

	return &testEnv{router: router.Handler(), api: router, store: store, poller: poller}
}

// addConnection stores a connection and reloads the poller so proxy routes
// can resolve it.
func (env *testEnv) addConnection(t *testing.T, host string) config.Connection {
	t.Helper()
	conn := config.Connection{Name: "test-" + host, Host: host, User: "root@pam", Password: "pw"}
	require.NoError(t, env.store.CreateConnection(&conn))
	require.NoError(t, env.poller.Reload())
	env.poller.Poll(context.Background())
	return conn
}

func (env *testEnv) login(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: testAdminUser, Password: testAdminPassword})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndVersionArePublic(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = env.do(t, http.MethodGet, "/api/version", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.0.0-test"`)
}

func TestLoginIssuesTokenAndCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	body, _ := json.Marshal(loginRequest{Username: testAdminUser, Password: testAdminPassword})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testAdminUser, resp.Username)
	assert.Equal(t, "admin", resp.Role)
	assert.NotEmpty(t, resp.Token)

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie, "login must set the session cookie")
	assert.True(t, sessionCookie.HttpOnly)
	assert.Equal(t, resp.Token, sessionCookie.Value)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: testAdminUser, Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 5; i++ {
		rec := env.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: testAdminUser, Password: "wrong-password"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// Correct password no longer helps once locked.
	rec := env.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: testAdminUser, Password: testAdminPassword})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Too many failed attempts")
}

func TestLoginChecksStoredUsers(t *testing.T) {
	env := newTestEnv(t, nil)

	hash, err := auth.HashPassword("a-long-enough-password")
	require.NoError(t, err)
	require.NoError(t, env.store.CreateUser("operator", hash, "viewer"))

	rec := env.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: "operator", Password: "a-long-enough-password"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "viewer", resp.Role)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/me/password", token, changePasswordRequest{
		CurrentPassword: testAdminPassword,
		NewPassword:     "fresh-password-123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The bootstrap admin now has a stored row, so the old env password
	// no longer works.
	rec = env.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: testAdminUser, Password: testAdminPassword})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: testAdminUser, Password: "fresh-password-123"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	user, err := env.store.GetUser(testAdminUser)
	require.NoError(t, err)
	assert.Equal(t, "admin", user.Role)
}

func TestChangePasswordRejectsWrongCurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/me/password", token, changePasswordRequest{
		CurrentPassword: "not-the-password",
		NewPassword:     "fresh-password-123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Current password is incorrect")
}

func TestChangePasswordEnforcesComplexity(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/me/password", token, changePasswordRequest{
		CurrentPassword: testAdminPassword,
		NewPassword:     "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least 12 characters")
}

func TestMeRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := env.login(t)
	rec = env.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"admin"`)
	assert.Contains(t, rec.Body.String(), `"role":"admin"`)
}

func TestGarbageTokenRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid or expired session")
}

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "logout must expire the session cookie")
}

func TestSecurityHeadersApplied(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSPAFallbackDoesNotCoverAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/definitely-not-a-route", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
