package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwaller89/accounthub/internal/config"
	"github.com/mwaller89/accounthub/internal/security"
)

// EnsureAdminUser seeds the admin account from env config if it is missing.
// No-op when ADMIN_EMAIL / ADMIN_PASSWORD are unset.
func EnsureAdminUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	var dummy int64

	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, cfg.AdminEmail).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO users (email, password_hash, first_name, last_name, is_active, role)
		 VALUES ($1, $2, $3, $4, TRUE, 'admin')`,
		cfg.AdminEmail, hash, cfg.AdminFirstName, cfg.AdminLastName,
	)

	return err
}
