package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/congo-pay/walletledger/internal/infra"
)

// SQLiteRepository stores wallets in the embedded database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository builds a repository backed by SQLite.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a wallet record.
func (r *SQLiteRepository) Create(ctx context.Context, wallet Wallet) error {
	var updatedAt any
	if wallet.UpdatedAt != nil {
		updatedAt = wallet.UpdatedAt.UTC().Format(infra.SQLiteTimeLayout)
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO wallets (`+walletColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		wallet.ID, wallet.UserID, wallet.AccountNumber, wallet.IsActive,
		wallet.CreatedAt.UTC().Format(infra.SQLiteTimeLayout), updatedAt)
	if infra.IsUniqueViolation(err) {
		return ErrDuplicateAccountNumber
	}
	return err
}

// FindByID fetches wallet metadata by internal identifier.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (Wallet, error) {
	return r.first(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id)
}

// FindByAccountNumber fetches wallet metadata by account number.
func (r *SQLiteRepository) FindByAccountNumber(ctx context.Context, accountNumber string) (Wallet, error) {
	return r.first(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_number = ?`, accountNumber)
}

// FindByUser lists a user's wallets, oldest first.
func (r *SQLiteRepository) FindByUser(ctx context.Context, userID string) ([]Wallet, error) {
	return r.query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = ? ORDER BY created_at, account_number`, userID)
}

func (r *SQLiteRepository) first(ctx context.Context, query string, arg any) (Wallet, error) {
	wallets, err := r.query(ctx, query, arg)
	if err != nil {
		return Wallet{}, err
	}
	if len(wallets) == 0 {
		return Wallet{}, ErrWalletNotFound
	}
	return wallets[0], nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Wallet, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		var (
			w         Wallet
			createdAt string
			updatedAt sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.UserID, &w.AccountNumber, &w.IsActive, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		if w.CreatedAt, err = time.Parse(infra.SQLiteTimeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if updatedAt.Valid {
			ts, err := time.Parse(infra.SQLiteTimeLayout, updatedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse updated_at: %w", err)
			}
			w.UpdatedAt = &ts
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
