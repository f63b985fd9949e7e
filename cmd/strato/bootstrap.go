package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stratodash/strato/internal/auth"
	"github.com/stratodash/strato/internal/config"
)

// seedAdminUser creates the initial admin account from STRATO_ADMIN_USER and
// STRATO_ADMIN_PASS when the users table is empty. The password may be
// supplied plain or already bcrypt-hashed. Subsequent starts are no-ops.
func seedAdminUser(cfg *config.Config, store *config.Store) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}

	count, err := store.CountUsers()
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash := cfg.AdminPassword
	if !auth.IsPasswordHashed(hash) {
		hash, err = auth.HashPassword(cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
	}

	if err := store.CreateUser(cfg.AdminUser, hash, "admin"); err != nil {
		if errors.Is(err, config.ErrUserExists) {
			return nil
		}
		return fmt.Errorf("create admin user: %w", err)
	}

	log.Info().Str("user", cfg.AdminUser).Msg("Seeded admin user from environment")
	return nil
}
