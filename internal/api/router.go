package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stratodash/strato/internal/auth"
	"github.com/stratodash/strato/internal/config"
	"github.com/stratodash/strato/internal/monitoring"
	"github.com/stratodash/strato/internal/websocket"
	"github.com/stratodash/strato/pkg/tlsutil"
)

// Router handles HTTP routing for the dashboard API.
type Router struct {
	mux     *http.ServeMux
	config  *config.Config
	store   *config.Store
	poller  *monitoring.Poller
	wsHub   *websocket.Hub
	tokens  *auth.TokenManager
	logins  *LoginTracker
	version string

	authLimiter *RateLimiter
	apiLimiter  *RateLimiter

	// fetchFingerprint pins a host certificate on first successful test.
	fetchFingerprint func(host string) (string, error)
}

// NewRouter creates the router with all routes registered. Handler returns
// the wrapped handler to mount.
func NewRouter(cfg *config.Config, store *config.Store, poller *monitoring.Poller, wsHub *websocket.Hub, tokens *auth.TokenManager, version string) *Router {
	r := &Router{
		mux:              http.NewServeMux(),
		config:           cfg,
		store:            store,
		poller:           poller,
		wsHub:            wsHub,
		tokens:           tokens,
		logins:           NewLoginTracker(),
		version:          version,
		authLimiter:      NewRateLimiter(10, 1*time.Minute),
		apiLimiter:       NewRateLimiter(500, 1*time.Minute),
		fetchFingerprint: tlsutil.FetchFingerprint,
	}

	r.setupRoutes()
	return r
}

// Handler wraps the router in the recovery and security-header middleware.
func (rt *Router) Handler() http.Handler {
	return ErrorHandler(SecurityHeaders(rt))
}

func (rt *Router) setupRoutes() {
	// Public routes
	rt.mux.HandleFunc("/api/health", rt.handleHealth)
	rt.mux.HandleFunc("/api/version", rt.handleVersion)
	rt.mux.HandleFunc("/api/login", rt.authLimiter.Middleware(rt.handleLogin))
	rt.mux.HandleFunc("/api/logout", rt.handleLogout)

	// Authenticated routes
	protected := func(h http.HandlerFunc) http.HandlerFunc {
		return rt.apiLimiter.Middleware(rt.requireAuth(h))
	}

	rt.mux.HandleFunc("/api/me", protected(rt.handleMe))
	rt.mux.HandleFunc("/api/me/password", protected(rt.handleChangePassword))

	rt.mux.HandleFunc("/api/nodes", protected(rt.handleNodes))
	rt.mux.HandleFunc("/api/nodes/", protected(rt.handleNodeDetail))
	rt.mux.HandleFunc("/api/vms", protected(rt.handleVMs))
	rt.mux.HandleFunc("/api/vms/", protected(rt.handleVMDetail))
	rt.mux.HandleFunc("/api/tasks/", protected(rt.handleTask))

	rt.mux.HandleFunc("/api/settings/branding", protected(rt.handleBranding))
	rt.mux.HandleFunc("/api/settings/connections", protected(rt.handleConnections))
	rt.mux.HandleFunc("/api/settings/connections/", protected(rt.handleConnectionDetail))

	// WebSocket endpoint. Auth runs before the upgrade.
	rt.mux.HandleFunc("/ws", rt.requireAuth(rt.wsHub.ServeWS))

	// Static files from the frontend build, with index.html fallback for
	// client-side routes.
	staticDir := rt.config.StaticDir
	fileServer := http.FileServer(http.Dir(staticDir))
	rt.mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path
		if path == "/" {
			path = "/index.html"
		}

		if f, err := http.Dir(staticDir).Open(strings.TrimPrefix(path, "/")); err == nil {
			f.Close()
			fileServer.ServeHTTP(w, req)
			return
		}

		if !strings.HasPrefix(path, "/api/") && !strings.HasPrefix(path, "/ws") {
			req.URL.Path = "/index.html"
			fileServer.ServeHTTP(w, req)
			return
		}

		http.NotFound(w, req)
	}))
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if rt.config.AllowedOrigins != "" {
		w.Header().Set("Access-Control-Allow-Origin", rt.config.AllowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	}

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	start := time.Now()
	rt.mux.ServeHTTP(w, req)
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

func (rt *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}

	state := rt.poller.State()
	healthy := 0
	for _, conn := range state.Connections {
		if conn.Healthy {
			healthy++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"timestamp":          time.Now().Unix(),
		"connections":        len(state.Connections),
		"connectionsHealthy": healthy,
	})
}

func (rt *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"version": rt.version,
		"runtime": "go",
	})
}
