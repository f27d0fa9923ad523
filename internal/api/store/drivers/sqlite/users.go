package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
)

type usersRepo struct {
	db *sql.DB
}

const userColumns = `id, provider_id, username, email, is_active, profile_completed, created_at, updated_at`

func (r *usersRepo) GetByProviderID(ctx context.Context, providerID string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider_id = ?`, providerID)
	return scanUser(row)
}

func (r *usersRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *usersRepo) Create(ctx context.Context, u domain.User) (domain.User, error) {
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (provider_id, username, email, is_active, profile_completed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ProviderID, u.Username, u.Email, u.Active, u.ProfileCompleted, now)
	if err != nil {
		return domain.User{}, mapConstraint(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.User{}, err
	}

	u.ID = id
	u.CreatedAt = now
	return u, nil
}

func (r *usersRepo) SetProfileCompleted(ctx context.Context, id int64, completed bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET profile_completed = ?, updated_at = ? WHERE id = ?`,
		completed, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mapNotFound(sql.ErrNoRows)
	}
	return nil
}

func (r *usersRepo) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u         domain.User
		updatedAt sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.ProviderID, &u.Username, &u.Email,
		&u.Active, &u.ProfileCompleted, &u.CreatedAt, &updatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.UpdatedAt = mapNullTimePtr(updatedAt)
	return u, nil
}
