package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stratodash/strato/internal/auth"
	"github.com/stratodash/strato/internal/config"
)

const sessionCookieName = "strato_session"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// extractToken pulls the session token from the Authorization header or the
// session cookie, in that order.
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	// Websocket clients cannot set headers, so allow a query token there.
	return r.URL.Query().Get("token")
}

// requireAuth rejects requests without a valid session token. Claims are
// put on the request context for downstream handlers.
func (rt *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rt.config.DisableAuth {
			next(w, r.WithContext(auth.WithUser(r.Context(), "admin", "admin")))
			return
		}

		token := extractToken(r)
		if token == "" {
			writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
			return
		}

		claims, err := rt.tokens.Verify(token)
		if err != nil {
			writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired session", nil)
			return
		}

		next(w, r.WithContext(auth.WithUser(r.Context(), claims.Subject, claims.Role)))
	}
}

// verifyCredentials checks the supplied password against the stored user,
// falling back to the bootstrap admin credentials from the environment.
// Returns the role on success.
func (rt *Router) verifyCredentials(username, password string) (string, bool) {
	user, err := rt.store.GetUser(username)
	switch {
	case err == nil:
		if auth.CheckPasswordHash(password, user.PasswordHash) {
			return user.Role, true
		}
		return "", false
	case errors.Is(err, config.ErrUserNotFound):
		// Bootstrap admin from the environment.
	default:
		log.Error().Err(err).Str("user", username).Msg("User lookup failed")
		return "", false
	}

	if rt.config.AdminUser == "" || username != rt.config.AdminUser {
		return "", false
	}
	stored := rt.config.AdminPassword
	if auth.IsPasswordHashed(stored) {
		if auth.CheckPasswordHash(password, stored) {
			return "admin", true
		}
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1 {
		return "admin", true
	}
	return "", false
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}

	if rt.config.DisableAuth {
		writeErrorResponse(w, http.StatusBadRequest, "auth_disabled", "Authentication is disabled", nil)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body", nil)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Username and password are required", nil)
		return
	}

	ip := GetClientIP(r)
	if rt.logins.IsLockedOut(req.Username) || rt.logins.IsLockedOut(ip) {
		LogAuditEvent("login", req.Username, ip, r.URL.Path, false, "account locked")
		writeErrorResponse(w, http.StatusTooManyRequests, "locked_out",
			"Too many failed attempts. Try again later.", nil)
		return
	}

	role, ok := rt.verifyCredentials(req.Username, req.Password)
	if !ok {
		rt.logins.RecordFailure(req.Username)
		rt.logins.RecordFailure(ip)
		LogAuditEvent("login", req.Username, ip, r.URL.Path, false, "invalid credentials")
		writeErrorResponse(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password", nil)
		return
	}

	token, err := rt.tokens.Issue(req.Username, role)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
			sanitizeErrorForClient(err, "Failed to issue session token"), nil)
		return
	}

	rt.logins.Clear(req.Username)
	rt.logins.Clear(ip)
	LogAuditEvent("login", req.Username, ip, r.URL.Path, true, "")

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.SessionLifetime / time.Second),
	})

	writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: req.Username, Role: role})
}

func (rt *Router) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	LogAuditEvent("logout", auth.GetUser(r.Context()), GetClientIP(r), r.URL.Path, true, "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (rt *Router) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}
	if rt.config.DisableAuth {
		writeErrorResponse(w, http.StatusBadRequest, "auth_disabled", "Authentication is disabled", nil)
		return
	}

	username := auth.GetUser(r.Context())
	ip := GetClientIP(r)

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body", nil)
		return
	}

	if _, ok := rt.verifyCredentials(username, req.CurrentPassword); !ok {
		LogAuditEvent("password_change", username, ip, r.URL.Path, false, "current password rejected")
		writeErrorResponse(w, http.StatusUnauthorized, "invalid_credentials", "Current password is incorrect", nil)
		return
	}

	if err := auth.ValidatePasswordComplexity(req.NewPassword); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
			sanitizeErrorForClient(err, "Failed to hash password"), nil)
		return
	}

	err = rt.store.UpdateUserPassword(username, hash)
	if errors.Is(err, config.ErrUserNotFound) {
		// Bootstrap admin still running off env credentials gets a row now.
		err = rt.store.CreateUser(username, hash, auth.GetRole(r.Context()))
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error",
			sanitizeErrorForClient(err, "Failed to update password"), nil)
		return
	}

	LogAuditEvent("password_change", username, ip, r.URL.Path, true, "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

func (rt *Router) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"username": auth.GetUser(r.Context()),
		"role":     auth.GetRole(r.Context()),
	})
}
