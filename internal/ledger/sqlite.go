package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/congo-pay/walletledger/internal/infra"
)

// SQLiteStore persists ledger entries in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore constructs a SQLite-backed ledger store. The schema is
// expected to be applied by infra.OpenSQLite.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteEntryColumns = `id, reference, account_number, transaction_type, credit, debit,
        is_reversed, is_deleted, transaction_date, description`

// Append checks the totals headroom, inserts the batch and re-checks covered
// balances in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, entries []Entry, covered []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	if err := checkHeadroom(entries, func(acct string) (Totals, error) {
		return sqliteTotals(ctx, tx, acct)
	}); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ledger_entries (`+sqliteEntryColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Reference, e.AccountNumber, string(e.TransactionType),
			e.Credit, e.Debit, e.IsReversed, e.IsDeleted, e.TransactionDate.UTC().Format(infra.SQLiteTimeLayout),
			e.Description); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}
	if err := sqliteCheckCovered(ctx, tx, covered); err != nil {
		return err
	}
	return tx.Commit()
}

// Totals sums credits and debits of live entries.
func (s *SQLiteStore) Totals(ctx context.Context, accountNumber string) (Totals, error) {
	return sqliteTotals(ctx, s.db, accountNumber)
}

// History lists entries newest first.
func (s *SQLiteStore) History(ctx context.Context, accountNumber string, filter *DateFilter) ([]Entry, error) {
	query := `SELECT ` + sqliteEntryColumns + ` FROM ledger_entries
        WHERE account_number = ? AND is_deleted = 0`
	args := []any{accountNumber}
	if filter != nil {
		query += ` AND transaction_date >= ? AND transaction_date <= ?`
		args = append(args, filter.StartDate.UTC().Format(infra.SQLiteTimeLayout), filter.EndDate.UTC().Format(infra.SQLiteTimeLayout))
	}
	query += ` ORDER BY transaction_date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanSQLiteEntries(rows)
}

// ByReference lists every live side of a posting.
func (s *SQLiteStore) ByReference(ctx context.Context, reference string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteEntryColumns+` FROM ledger_entries
        WHERE reference = ? AND is_deleted = 0 ORDER BY account_number`, reference)
	if err != nil {
		return nil, err
	}
	return scanSQLiteEntries(rows)
}

// MarkReversed flags the posting in one UPDATE.
func (s *SQLiteStore) MarkReversed(ctx context.Context, reference string, covered []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() // nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE ledger_entries SET is_reversed = 1
        WHERE reference = ? AND is_reversed = 0 AND is_deleted = 0`, reference)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := sqliteCheckCovered(ctx, tx, covered); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteTotals(ctx context.Context, q sqliteQuerier, accountNumber string) (Totals, error) {
	const query = `
        SELECT COALESCE(SUM(credit), 0), COALESCE(SUM(debit), 0)
        FROM ledger_entries
        WHERE account_number = ? AND is_reversed = 0 AND is_deleted = 0`
	var t Totals
	if err := q.QueryRowContext(ctx, query, accountNumber).Scan(&t.Credit, &t.Debit); err != nil {
		return Totals{}, err
	}
	return t, nil
}

func sqliteCheckCovered(ctx context.Context, tx *sql.Tx, covered []string) error {
	for _, acct := range covered {
		t, err := sqliteTotals(ctx, tx, acct)
		if err != nil {
			return err
		}
		if t.Credit-t.Debit < 0 {
			return ErrInsufficientFunds
		}
	}
	return nil
}

func scanSQLiteEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			txType  string
			txnDate string
		)
		if err := rows.Scan(&e.ID, &e.Reference, &e.AccountNumber, &txType, &e.Credit, &e.Debit,
			&e.IsReversed, &e.IsDeleted, &txnDate, &e.Description); err != nil {
			return nil, err
		}
		ts, err := time.Parse(infra.SQLiteTimeLayout, txnDate)
		if err != nil {
			return nil, fmt.Errorf("parse transaction date %q: %w", txnDate, err)
		}
		e.TransactionType = TransactionType(txType)
		e.TransactionDate = ts.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
