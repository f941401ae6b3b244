package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwaller89/accounthub/internal/domain/user"
	"github.com/mwaller89/accounthub/internal/observability"
	"github.com/mwaller89/accounthub/internal/utils"
)

const userColumns = `id, email, password_hash, first_name, last_name, is_active, role, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.IsActive,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

// Create inserts the row and relies on the unique index on email for
// atomicity; there is no separate existence check to race against.
func (r *UsersRepo) Create(ctx context.Context, email, passwordHash, firstName, lastName string, isActive bool, role string) (user.User, error) {
	var u user.User

	err := r.observe("users.create", func() error {
		var scanErr error
		u, scanErr = scanUser(r.pool.QueryRow(ctx,
			`INSERT INTO users (email, password_hash, first_name, last_name, is_active, role)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+userColumns,
			email, passwordHash, firstName, lastName, isActive, role,
		))
		return scanErr
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailAlreadyUsed
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User

	err := r.observe("users.get_by_email", func() error {
		var scanErr error
		u, scanErr = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id int64) (user.User, error) {
	var u user.User

	err := r.observe("users.get_by_id", func() error {
		var scanErr error
		u, scanErr = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

// List pages through users ordered by id. An empty cursor starts from the
// beginning; the returned cursor is empty on the last page.
func (r *UsersRepo) List(ctx context.Context, limit int, cursor string) ([]user.User, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	afterID := int64(0)

	if cursor != "" {
		c, err := utils.DecodeUserCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		afterID = c.ID
	}

	var users []user.User

	err := r.observe("users.list", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+userColumns+` FROM users WHERE id > $1 ORDER BY id ASC LIMIT $2`,
			afterID, limit+1,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		users = users[:0]
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, "", err
	}

	next := ""

	if len(users) > limit {
		users = users[:limit]
		last := users[len(users)-1]
		next, err = utils.EncodeUserCursor(last.ID)
		if err != nil {
			return nil, "", err
		}
	}

	return users, next, nil
}

func (r *UsersRepo) UpdateNames(ctx context.Context, id int64, firstName, lastName string) (user.User, error) {
	var u user.User

	err := r.observe("users.update_names", func() error {
		var scanErr error
		u, scanErr = scanUser(r.pool.QueryRow(ctx,
			`UPDATE users
			 SET first_name = $2, last_name = $3, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+userColumns,
			id, firstName, lastName,
		))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) UpdateEmail(ctx context.Context, id int64, email string) error {
	return r.observe("users.update_email", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users SET email = $2, updated_at = NOW() WHERE id = $1`, id, email)

		if err != nil {
			if IsUniqueViolation(err) {
				return user.ErrEmailAlreadyUsed
			}
			return err
		}

		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}

		return nil
	})
}

func (r *UsersRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return r.observe("users.update_password", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)

		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}

		return nil
	})
}

func (r *UsersRepo) Activate(ctx context.Context, id int64) error {
	return r.observe("users.activate", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, id)

		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}

		return nil
	})
}

func (r *UsersRepo) Delete(ctx context.Context, id int64) error {
	return r.observe("users.delete", func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)

		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}

		return nil
	})
}
