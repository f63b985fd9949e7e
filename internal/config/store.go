package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrConnectionNotFound = errors.New("connection not found")
)

// User is a dashboard login.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Branding is the tenant white-label record. A single row, always present.
type Branding struct {
	CompanyName  string    `json:"companyName"`
	LogoURL      string    `json:"logoUrl"`
	AccentColor  string    `json:"accentColor"`
	LoginMessage string    `json:"loginMessage"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Connection is a stored Proxmox host credential record.
type Connection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Host        string    `json:"host"`
	User        string    `json:"user,omitempty"`
	Password    string    `json:"-"`
	TokenName   string    `json:"tokenName,omitempty"`
	TokenValue  string    `json:"-"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	VerifySSL   bool      `json:"verifySSL"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasCredentials reports whether the record carries a usable credential.
func (c *Connection) HasCredentials() bool {
	return (c.User != "" && c.Password != "") || (c.TokenName != "" && c.TokenValue != "")
}

// Store persists users, branding and connections in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) strato.db in the data dir.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "strato.db")

	// Pragmas in the DSN so every pool connection is configured
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'admin',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Single-row white-label record, id pinned to 1
	CREATE TABLE IF NOT EXISTS branding (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		company_name TEXT NOT NULL DEFAULT '',
		logo_url TEXT NOT NULL DEFAULT '',
		accent_color TEXT NOT NULL DEFAULT '',
		login_message TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		host TEXT NOT NULL,
		user TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		token_name TEXT NOT NULL DEFAULT '',
		token_value TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		verify_ssl INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO branding (id, updated_at) VALUES (1, ?)`,
		time.Now().Unix(),
	)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- users ---

// GetUser returns a user by username.
func (s *Store) GetUser(username string) (*User, error) {
	var u User
	var created, updated int64
	err := s.db.QueryRow(
		`SELECT username, password_hash, role, created_at, updated_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.Username, &u.PasswordHash, &u.Role, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0)
	u.UpdatedAt = time.Unix(updated, 0)
	return &u, nil
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(username, passwordHash, role string) error {
	if role == "" {
		role = "admin"
	}
	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT INTO users (username, password_hash, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		username, passwordHash, role, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UpdateUserPassword replaces a user's password hash.
func (s *Store) UpdateUserPassword(username, passwordHash string) error {
	res, err := s.db.Exec(
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE username = ?`,
		passwordHash, time.Now().Unix(), username,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CountUsers returns the number of dashboard users.
func (s *Store) CountUsers() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// --- branding ---

// GetBranding returns the white-label record.
func (s *Store) GetBranding() (*Branding, error) {
	var b Branding
	var updated int64
	err := s.db.QueryRow(
		`SELECT company_name, logo_url, accent_color, login_message, updated_at FROM branding WHERE id = 1`,
	).Scan(&b.CompanyName, &b.LogoURL, &b.AccentColor, &b.LoginMessage, &updated)
	if err != nil {
		return nil, fmt.Errorf("query branding: %w", err)
	}
	b.UpdatedAt = time.Unix(updated, 0)
	return &b, nil
}

// UpdateBranding replaces the white-label record.
func (s *Store) UpdateBranding(b *Branding) error {
	_, err := s.db.Exec(
		`UPDATE branding SET company_name = ?, logo_url = ?, accent_color = ?, login_message = ?, updated_at = ? WHERE id = 1`,
		b.CompanyName, b.LogoURL, b.AccentColor, b.LoginMessage, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("update branding: %w", err)
	}
	return nil
}

// --- connections ---

// ListConnections returns all stored Proxmox connections.
func (s *Store) ListConnections() ([]Connection, error) {
	rows, err := s.db.Query(
		`SELECT id, name, host, user, password, token_name, token_value, fingerprint, verify_ssl, created_at, updated_at
		 FROM connections ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

// GetConnection returns a connection by ID.
func (s *Store) GetConnection(id string) (*Connection, error) {
	row := s.db.QueryRow(
		`SELECT id, name, host, user, password, token_name, token_value, fingerprint, verify_ssl, created_at, updated_at
		 FROM connections WHERE id = ?`,
		id,
	)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	return c, err
}

// CreateConnection inserts a connection record, assigning an ID when empty.
func (s *Store) CreateConnection(c *Connection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO connections (id, name, host, user, password, token_name, token_value, fingerprint, verify_ssl, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Host, c.User, c.Password, c.TokenName, c.TokenValue, c.Fingerprint, boolToInt(c.VerifySSL), now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// UpdateConnection replaces a connection record. Empty secret fields keep the
// stored value so clients never have to echo credentials back.
func (s *Store) UpdateConnection(c *Connection) error {
	existing, err := s.GetConnection(c.ID)
	if err != nil {
		return err
	}
	if c.Password == "" {
		c.Password = existing.Password
	}
	if c.TokenValue == "" {
		c.TokenValue = existing.TokenValue
	}

	_, err = s.db.Exec(
		`UPDATE connections SET name = ?, host = ?, user = ?, password = ?, token_name = ?, token_value = ?, fingerprint = ?, verify_ssl = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.Host, c.User, c.Password, c.TokenName, c.TokenValue, c.Fingerprint, boolToInt(c.VerifySSL), time.Now().Unix(), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	return nil
}

// DeleteConnection removes a connection record.
func (s *Store) DeleteConnection(id string) error {
	res, err := s.db.Exec(`DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*Connection, error) {
	var c Connection
	var verifySSL int
	var created, updated int64
	err := row.Scan(&c.ID, &c.Name, &c.Host, &c.User, &c.Password, &c.TokenName, &c.TokenValue,
		&c.Fingerprint, &verifySSL, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.VerifySSL = verifySSL != 0
	c.CreatedAt = time.Unix(created, 0)
	c.UpdatedAt = time.Unix(updated, 0)
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
