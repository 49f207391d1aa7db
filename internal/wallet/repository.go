package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrWalletNotFound indicates no wallet matches the lookup.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrDuplicateAccountNumber is returned when the generated account number
	// is already taken.
	ErrDuplicateAccountNumber = errors.New("duplicate account number")
)

// Repository persists wallet metadata.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	FindByID(ctx context.Context, id string) (Wallet, error)
	FindByAccountNumber(ctx context.Context, accountNumber string) (Wallet, error)
	FindByUser(ctx context.Context, userID string) ([]Wallet, error)
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const walletColumns = `id, user_id, account_number, is_active, created_at, updated_at`

// Create inserts a wallet record. The unique index on account_number turns a
// generator collision into ErrDuplicateAccountNumber.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	_, err := r.db.Exec(ctx, `INSERT INTO wallets (`+walletColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		wallet.ID, wallet.UserID, wallet.AccountNumber, wallet.IsActive, wallet.CreatedAt.UTC(), wallet.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateAccountNumber
	}
	return err
}

// FindByID fetches wallet metadata by internal identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id::text = $1`, id)
	if err != nil {
		return Wallet{}, err
	}
	return firstWallet(rows)
}

// FindByAccountNumber fetches wallet metadata by account number.
func (r *PostgresRepository) FindByAccountNumber(ctx context.Context, accountNumber string) (Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_number = $1`, accountNumber)
	if err != nil {
		return Wallet{}, err
	}
	return firstWallet(rows)
}

// FindByUser lists a user's wallets, oldest first.
func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) ([]Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE user_id::text = $1 ORDER BY created_at, account_number`, userID)
	if err != nil {
		return nil, err
	}
	return collectWallets(rows)
}

func firstWallet(rows pgx.Rows) (Wallet, error) {
	wallets, err := collectWallets(rows)
	if err != nil {
		return Wallet{}, err
	}
	if len(wallets) == 0 {
		return Wallet{}, ErrWalletNotFound
	}
	return wallets[0], nil
}

func collectWallets(rows pgx.Rows) ([]Wallet, error) {
	defer rows.Close()
	var out []Wallet
	for rows.Next() {
		var (
			w         Wallet
			createdAt time.Time
			updatedAt *time.Time
		)
		if err := rows.Scan(&w.ID, &w.UserID, &w.AccountNumber, &w.IsActive, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		w.CreatedAt = createdAt.UTC()
		w.UpdatedAt = updatedAt
		out = append(out, w)
	}
	return out, rows.Err()
}
