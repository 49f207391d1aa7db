package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound indicates no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists indicates the email is already registered.
	ErrUserExists = errors.New("user exists")
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const pgUserColumns = `id, email, password_hash, first_name, last_name, phone_number, created_at, updated_at`

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	_, err := r.db.Exec(ctx, `INSERT INTO users (`+pgUserColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, strings.ToLower(user.Email), user.PasswordHash, user.FirstName, user.LastName,
		user.PhoneNumber, user.CreatedAt.UTC(), user.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUserExists
	}
	return err
}

// FindByEmail fetches a user by email address.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, `SELECT `+pgUserColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	return r.findOne(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id::text = $1`, id)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (User, error) {
	var (
		user      User
		createdAt time.Time
		updatedAt *time.Time
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Email, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.PhoneNumber, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	user.CreatedAt = createdAt.UTC()
	user.UpdatedAt = updatedAt
	return user, nil
}
