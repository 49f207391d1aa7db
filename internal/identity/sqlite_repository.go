package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/congo-pay/walletledger/internal/infra"
)

// SQLiteRepository implements Repository on the embedded database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository builds a SQLite-backed identity repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new user.
func (r *SQLiteRepository) Create(ctx context.Context, user User) error {
	var updatedAt any
	if user.UpdatedAt != nil {
		updatedAt = user.UpdatedAt.UTC().Format(infra.SQLiteTimeLayout)
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (`+pgUserColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, strings.ToLower(user.Email), user.PasswordHash, user.FirstName, user.LastName,
		user.PhoneNumber, user.CreatedAt.UTC().Format(infra.SQLiteTimeLayout), updatedAt)
	if infra.IsUniqueViolation(err) {
		return ErrUserExists
	}
	return err
}

// FindByEmail fetches a user by email address.
func (r *SQLiteRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, `SELECT `+pgUserColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
}

// FindByID fetches a user by identifier.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (User, error) {
	return r.findOne(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = ?`, id)
}

func (r *SQLiteRepository) findOne(ctx context.Context, query string, arg any) (User, error) {
	var (
		user      User
		createdAt string
		updatedAt sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Email, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.PhoneNumber, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	if user.CreatedAt, err = time.Parse(infra.SQLiteTimeLayout, createdAt); err != nil {
		return User{}, fmt.Errorf("parse created_at: %w", err)
	}
	if updatedAt.Valid {
		ts, err := time.Parse(infra.SQLiteTimeLayout, updatedAt.String)
		if err != nil {
			return User{}, fmt.Errorf("parse updated_at: %w", err)
		}
		user.UpdatedAt = &ts
	}
	return user, nil
}
