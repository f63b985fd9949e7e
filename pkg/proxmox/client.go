// Package proxmox is a client for the subset of the Proxmox VE REST API the
// dashboard exposes: node listing, VM inventory and lifecycle, and RRD stats.
//
// Authentication is either ticket-based (username/password exchanged for a
// session ticket and CSRF token via /access/ticket) or via a PVE API token.
// The ticket pair is cached and refreshed on expiry; a 401 mid-flight triggers
// one transparent re-authentication and retry.
package proxmox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stratodash/strato/pkg/tlsutil"
)

// ticketLifetime is how long Proxmox tickets stay valid (2h server-side);
// refresh well before that.
const ticketLifetime = 90 * time.Minute

// Client talks to a single Proxmox VE host.
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     ClientConfig
	mu         sync.Mutex
	auth       authState
}

// ClientConfig configures a Proxmox VE connection. Either User+Password or
// TokenName+TokenValue must be set; a token wins when both are present.
type ClientConfig struct {
	Host        string // "hostname", "hostname:8006" or full URL
	User        string // "root@pam" or bare username (realm defaults to pam)
	Password    string
	TokenName   string // "user@realm!name" or bare token name
	TokenValue  string
	Fingerprint string // optional pinned certificate SHA256 fingerprint
	VerifySSL   bool
	Timeout     time.Duration
}

type authState struct {
	user       string
	realm      string
	ticket     string
	csrfToken  string
	tokenName  string
	tokenValue string
	expiresAt  time.Time
}

type apiResponse[T any] struct {
	Data T `json:"data"`
}

// NewClient creates a client and, for password credentials, performs the
// initial ticket exchange.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	if !strings.HasPrefix(cfg.Host, "http://") && !strings.HasPrefix(cfg.Host, "https://") {
		cfg.Host = "https://" + cfg.Host
	}
	if strings.HasPrefix(cfg.Host, "http://") {
		log.Warn().Str("host", cfg.Host).Msg("Using HTTP for Proxmox connection - consider enabling HTTPS")
	}

	user, realm, tokenName := splitCredentials(&cfg)

	client := &Client{
		baseURL:    strings.TrimSuffix(cfg.Host, "/") + "/api2/json",
		httpClient: tlsutil.NewHTTPClient(cfg.VerifySSL, cfg.Fingerprint, cfg.Timeout),
		config:     cfg,
		auth: authState{
			user:       user,
			realm:      realm,
			tokenName:  tokenName,
			tokenValue: cfg.TokenValue,
		},
	}

	if cfg.Password != "" && tokenName == "" {
		if err := client.authenticate(context.Background()); err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	return client, nil
}

// splitCredentials normalizes "user@realm!token" forms into separate parts.
// The realm defaults to pam.
func splitCredentials(cfg *ClientConfig) (user, realm, tokenName string) {
	tokenName = cfg.TokenName
	if tokenName != "" && cfg.TokenValue != "" {
		if idx := strings.Index(tokenName, "!"); idx >= 0 {
			if u, r, ok := splitUserRealm(tokenName[:idx]); ok {
				user, realm = u, r
				tokenName = tokenName[idx+1:]
			}
		}
	}
	if user == "" && cfg.User != "" {
		if u, r, ok := splitUserRealm(cfg.User); ok {
			user, realm = u, r
		} else {
			user = cfg.User
		}
	}
	if realm == "" {
		realm = "pam"
	}
	return user, realm, tokenName
}

func splitUserRealm(s string) (user, realm string, ok bool) {
	parts := strings.Split(s, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// authenticate performs the /access/ticket exchange and caches the resulting
// ticket and CSRF token.
func (c *Client) authenticate(ctx context.Context) error {
	username := c.auth.user
	if username != "" && !strings.Contains(username, "@") {
		username = username + "@" + c.auth.realm
	}

	data := url.Values{
		"username": {username},
		"password": {c.config.Password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/access/ticket", strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ticket request failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result apiResponse[struct {
		Ticket              string `json:"ticket"`
		CSRFPreventionToken string `json:"CSRFPreventionToken"`
	}]
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode ticket response: %w", err)
	}
	if result.Data.Ticket == "" {
		return fmt.Errorf("ticket response contained no ticket")
	}

	c.mu.Lock()
	c.auth.ticket = result.Data.Ticket
	c.auth.csrfToken = result.Data.CSRFPreventionToken
	c.auth.expiresAt = time.Now().Add(ticketLifetime)
	c.mu.Unlock()

	return nil
}

func (c *Client) usesTicketAuth() bool {
	return c.config.Password != "" && c.auth.tokenName == ""
}

// ensureAuth refreshes the cached ticket when it has expired. No-op for token
// credentials.
func (c *Client) ensureAuth(ctx context.Context) error {
	if !c.usesTicketAuth() {
		return nil
	}

	c.mu.Lock()
	expired := time.Now().After(c.auth.expiresAt)
	c.mu.Unlock()

	if expired {
		if err := c.authenticate(ctx); err != nil {
			return fmt.Errorf("re-authentication failed: %w", err)
		}
	}
	return nil
}

// request issues a single API call with credentials attached. On a 401 with
// ticket auth it re-authenticates once and retries the original request.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, body url.Values) (*http.Response, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}

	resp, err := c.doOnce(ctx, method, path, params, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.usesTicketAuth() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if err := c.authenticate(ctx); err != nil {
			return nil, fmt.Errorf("re-authentication failed after 401: %w", err)
		}
		resp, err = c.doOnce(ctx, method, path, params, body)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, c.statusError(path, resp.StatusCode, raw)
	}

	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, params url.Values, body url.Values) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(body.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.mu.Lock()
	ticket := c.auth.ticket
	csrf := c.auth.csrfToken
	tokenName := c.auth.tokenName
	tokenValue := c.auth.tokenValue
	user := c.auth.user
	realm := c.auth.realm
	c.mu.Unlock()

	if tokenName != "" && tokenValue != "" {
		req.Header.Set("Authorization", fmt.Sprintf("PVEAPIToken=%s@%s!%s=%s", user, realm, tokenName, tokenValue))
	} else if ticket != "" {
		req.Header.Set("Cookie", "PVEAuthCookie="+ticket)
		if method != http.MethodGet && csrf != "" {
			req.Header.Set("CSRFPreventionToken", csrf)
		}
	}

	return c.httpClient.Do(req)
}

// statusError maps Proxmox HTTP failures to errors the caller can classify.
// 595 is Proxmox's pseudo-status for proxied requests that could not reach or
// authenticate against the target node.
func (c *Client) statusError(path string, status int, raw []byte) error {
	msg := strings.TrimSpace(string(raw))
	apiErr := fmt.Errorf("API error %d: %s", status, msg)

	switch status {
	case 595:
		if isNodeResourcePath(path) {
			return fmt.Errorf("Cannot access node resource %s: %w", path, apiErr)
		}
		return fmt.Errorf("Authentication failed (no ticket): %w", apiErr)
	case http.StatusForbidden:
		if c.auth.tokenName != "" {
			return fmt.Errorf("authentication error: token %s@%s!%s does not have sufficient permissions: %w",
				c.auth.user, c.auth.realm, c.auth.tokenName, apiErr)
		}
		return fmt.Errorf("authentication error: %w", apiErr)
	default:
		return apiErr
	}
}

// isNodeResourcePath reports whether path addresses a resource under a
// specific node, as opposed to a cluster-wide endpoint.
func isNodeResourcePath(path string) bool {
	rest, ok := strings.CutPrefix(path, "/nodes/")
	return ok && strings.Contains(rest, "/")
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	return c.request(ctx, http.MethodGet, path, nil, nil)
}

// getJSON performs a GET and decodes the response envelope into out.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	resp, err := c.request(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postTask performs a POST whose response data is a task UPID.
func (c *Client) postTask(ctx context.Context, path string, body url.Values) (string, error) {
	resp, err := c.request(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result apiResponse[string]
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode task response: %w", err)
	}
	return result.Data, nil
}

// Host returns the configured host URL.
func (c *Client) Host() string {
	return c.config.Host
}
