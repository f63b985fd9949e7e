package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// GetClientIP extracts the client IP from the request, honoring proxy
// headers.
func GetClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// Failed login tracking. Accounts lock after maxFailedAttempts within the
// lockout window.
type failedLogin struct {
	Count       int
	LastAttempt time.Time
	LockedUntil time.Time
}

const (
	maxFailedAttempts = 5
	lockoutDuration   = 15 * time.Minute
)

// LoginTracker counts failed logins per identifier (username or IP).
type LoginTracker struct {
	mu     sync.RWMutex
	failed map[string]*failedLogin
}

func NewLoginTracker() *LoginTracker {
	return &LoginTracker{failed: make(map[string]*failedLogin)}
}

// RecordFailure tracks a failed login attempt.
func (t *LoginTracker) RecordFailure(identifier string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	failed, exists := t.failed[identifier]
	if !exists {
		failed = &failedLogin{}
		t.failed[identifier] = failed
	}

	failed.Count++
	failed.LastAttempt = time.Now()

	if failed.Count >= maxFailedAttempts {
		failed.LockedUntil = time.Now().Add(lockoutDuration)
		log.Warn().
			Str("identifier", identifier).
			Int("attempts", failed.Count).
			Time("locked_until", failed.LockedUntil).
			Msg("Account locked due to failed login attempts")
	}
}

// Clear resets the failure counter on successful login.
func (t *LoginTracker) Clear(identifier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failed, identifier)
}

// IsLockedOut reports whether the identifier is currently locked.
func (t *LoginTracker) IsLockedOut(identifier string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	failed, exists := t.failed[identifier]
	if !exists {
		return false
	}

	if time.Now().After(failed.LockedUntil) {
		return false
	}

	return failed.Count >= maxFailedAttempts
}

// SecurityHeaders applies the standard header set to every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		cspDirectives := []string{
			"default-src 'self'",
			"script-src 'self' 'unsafe-inline'",
			"style-src 'self' 'unsafe-inline'",
			"img-src 'self' data: blob: https:",
			"connect-src 'self' ws: wss:",
			"font-src 'self' data:",
			"frame-ancestors 'none'",
		}
		w.Header().Set("Content-Security-Policy", strings.Join(cspDirectives, "; "))

		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		next.ServeHTTP(w, r)
	})
}

// LogAuditEvent logs security-relevant events.
func LogAuditEvent(event string, user string, ip string, path string, success bool, details string) {
	if success {
		log.Info().
			Str("event", event).
			Str("user", user).
			Str("ip", ip).
			Str("path", path).
			Str("details", details).
			Msg("Security audit event")
	} else {
		log.Warn().
			Str("event", event).
			Str("user", user).
			Str("ip", ip).
			Str("path", path).
			Str("details", details).
			Msg("Security audit event - FAILED")
	}
}
