package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/stratodash/strato/internal/auth"
	"github.com/stratodash/strato/internal/config"
)

type brandingRequest struct {
	CompanyName  string `json:"companyName"`
	LogoURL      string `json:"logoUrl"`
	AccentColor  string `json:"accentColor"`
	LoginMessage string `json:"loginMessage"`
}

// connectionRequest carries secrets on the way in; stored records never
// echo them back.
type connectionRequest struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	User        string `json:"user"`
	Password    string `json:"password"`
	TokenName   string `json:"tokenName"`
	TokenValue  string `json:"tokenValue"`
	Fingerprint string `json:"fingerprint"`
	VerifySSL   bool   `json:"verifySSL"`
}

// handleBranding serves GET/PUT /api/settings/branding.
func (rt *Router) handleBranding(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		branding, err := rt.store.GetBranding()
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
				sanitizeErrorForClient(err, "Failed to load branding"), nil)
			return
		}
		writeJSON(w, http.StatusOK, branding)

	case http.MethodPut:
		var req brandingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body", nil)
			return
		}
		if req.AccentColor != "" && !isHexColor(req.AccentColor) {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_request",
				"Accent color must be a hex value like #1a7f64", nil)
			return
		}

		branding := &config.Branding{
			CompanyName:  strings.TrimSpace(req.CompanyName),
			LogoURL:      strings.TrimSpace(req.LogoURL),
			AccentColor:  req.AccentColor,
			LoginMessage: req.LoginMessage,
		}
		if err := rt.store.UpdateBranding(branding); err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
				sanitizeErrorForClient(err, "Failed to save branding"), nil)
			return
		}

		LogAuditEvent("branding_update", auth.GetUser(r.Context()), GetClientIP(r), r.URL.Path, true, "")
		updated, err := rt.store.GetBranding()
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
				sanitizeErrorForClient(err, "Failed to load branding"), nil)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	}
}

func isHexColor(s string) bool {
	if len(s) != 4 && len(s) != 7 {
		return false
	}
	if s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// handleConnections serves GET (list) and POST (create) on
// /api/settings/connections.
func (rt *Router) handleConnections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		conns, err := rt.store.ListConnections()
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
				sanitizeErrorForClient(err, "Failed to list connections"), nil)
			return
		}
		writeJSON(w, http.StatusOK, conns)

	case http.MethodPost:
		var req connectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body", nil)
			return
		}

		conn := connectionFromRequest(req)
		if msg := validateConnection(conn); msg != "" {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_request", msg, nil)
			return
		}

		if err := rt.store.CreateConnection(conn); err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
				sanitizeErrorForClient(err, "Failed to save connection"), nil)
			return
		}

		LogAuditEvent("connection_create", auth.GetUser(r.Context()), GetClientIP(r), r.URL.Path, true, conn.Name)
		rt.reloadPoller()
		writeJSON(w, http.StatusCreated, conn)

	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	}
}

// handleConnectionDetail serves PUT/DELETE /api/settings/connections/{id}
// and POST /api/settings/connections/{id}/test.
func (rt *Router) handleConnectionDetail(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/settings/connections/")
	if len(segments) == 0 || len(segments) > 2 {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Not found", nil)
		return
	}
	id := segments[0]

	if len(segments) == 2 {
		if segments[1] != "test" || r.Method != http.MethodPost {
			writeErrorResponse(w, http.StatusNotFound, "not_found", "Not found", nil)
			return
		}
		rt.handleConnectionTest(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodPut:
		rt.handleConnectionUpdate(w, r, id)
	case http.MethodDelete:
		rt.handleConnectionDelete(w, r, id)
	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	}
}

func (rt *Router) handleConnectionUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body", nil)
		return
	}

	conn := connectionFromRequest(req)
	conn.ID = id
	if conn.Name == "" || conn.Host == "" {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Name and host are required", nil)
		return
	}

	// Empty secrets keep the stored values, so a credential check here
	// would reject legitimate no-op updates.
	if err := rt.store.UpdateConnection(conn); err != nil {
		if errors.Is(err, config.ErrConnectionNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "not_found", "Connection not found", nil)
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
			sanitizeErrorForClient(err, "Failed to update connection"), nil)
		return
	}

	LogAuditEvent("connection_update", auth.GetUser(r.Context()), GetClientIP(r), r.URL.Path, true, conn.Name)
	rt.reloadPoller()

	updated, err := rt.store.GetConnection(id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
			sanitizeErrorForClient(err, "Failed to load connection"), nil)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (rt *Router) handleConnectionDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := rt.store.DeleteConnection(id); err != nil {
		if errors.Is(err, config.ErrConnectionNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "not_found", "Connection not found", nil)
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
			sanitizeErrorForClient(err, "Failed to delete connection"), nil)
		return
	}

	LogAuditEvent("connection_delete", auth.GetUser(r.Context()), GetClientIP(r), r.URL.Path, true, id)
	rt.reloadPoller()
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (rt *Router) handleConnectionTest(w http.ResponseWriter, r *http.Request, id string) {
	conn, err := rt.store.GetConnection(id)
	if err != nil {
		if errors.Is(err, config.ErrConnectionNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "not_found", "Connection not found", nil)
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
			sanitizeErrorForClient(err, "Failed to load connection"), nil)
		return
	}

	version, err := rt.poller.TestConnection(r.Context(), *conn)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	// Trust-on-first-use: pin the host certificate after the first
	// successful test so later handshakes detect a swapped cert.
	if !conn.VerifySSL && conn.Fingerprint == "" {
		if fp, err := rt.fetchFingerprint(conn.Host); err != nil {
			log.Warn().Err(err).Str("host", conn.Host).Msg("Failed to fetch TLS fingerprint for pinning")
		} else {
			conn.Fingerprint = fp
			if err := rt.store.UpdateConnection(conn); err != nil {
				log.Warn().Err(err).Str("connection", conn.Name).Msg("Failed to save pinned fingerprint")
				conn.Fingerprint = ""
			} else {
				rt.reloadPoller()
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"version":     version.Version,
		"fingerprint": conn.Fingerprint,
	})
}

func connectionFromRequest(req connectionRequest) *config.Connection {
	return &config.Connection{
		Name:        strings.TrimSpace(req.Name),
		Host:        strings.TrimSpace(req.Host),
		User:        strings.TrimSpace(req.User),
		Password:    req.Password,
		TokenName:   strings.TrimSpace(req.TokenName),
		TokenValue:  req.TokenValue,
		Fingerprint: strings.TrimSpace(req.Fingerprint),
		VerifySSL:   req.VerifySSL,
	}
}

func validateConnection(conn *config.Connection) string {
	if conn.Name == "" || conn.Host == "" {
		return "Name and host are required"
	}
	if !conn.HasCredentials() {
		return "Either user/password or an API token is required"
	}
	return ""
}

func (rt *Router) reloadPoller() {
	if err := rt.poller.Reload(); err != nil {
		log.Error().Err(err).Msg("Failed to reload poller after connection change")
	}
}
