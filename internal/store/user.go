package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/digiclo/apiserver/types"
	"github.com/google/uuid"
)

const userColumns = `id, email, username, password_hash, photo_url, bio, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	if !validID(id) {
		return types.User{}, ErrNotFound
	}
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, email, username, password_hash, photo_url, bio, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.PhotoURL,
		user.Bio,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if dup := duplicateFromPQ(err); dup != nil {
			return types.User{}, dup
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) UpdateUsername(ctx context.Context, id, username string) (types.User, error) {
	const query = `UPDATE users SET username = $2, updated_at = $3 WHERE id = $1 RETURNING ` + userColumns
	return r.update(ctx, query, id, username)
}

func (r *UserRepository) UpdateBio(ctx context.Context, id, bio string) (types.User, error) {
	const query = `UPDATE users SET bio = $2, updated_at = $3 WHERE id = $1 RETURNING ` + userColumns
	return r.update(ctx, query, id, bio)
}

func (r *UserRepository) UpdatePhoto(ctx context.Context, id, photoURL string) (types.User, error) {
	const query = `UPDATE users SET photo_url = $2, updated_at = $3 WHERE id = $1 RETURNING ` + userColumns
	return r.update(ctx, query, id, photoURL)
}

func (r *UserRepository) update(ctx context.Context, query, id, value string) (types.User, error) {
	if !validID(id) {
		return types.User{}, ErrNotFound
	}
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id, value, time.Now().UTC()))
	if err != nil {
		if dup := duplicateFromPQ(err); dup != nil {
			return types.User{}, dup
		}
		return types.User{}, err
	}
	return user, nil
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&user.PhotoURL,
		&user.Bio,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
