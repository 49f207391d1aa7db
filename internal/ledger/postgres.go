package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists ledger entries in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgEntryColumns = `id, reference, account_number, transaction_type, credit, debit,
        is_reversed, is_deleted, transaction_date, description`

// Append inserts the batch inside one transaction. Covered and touched
// wallet accounts are locked with transaction-scoped advisory locks before
// the headroom check and the balance re-check so two processes cannot both
// pass them.
func (s *PostgresStore) Append(ctx context.Context, entries []Entry, covered []string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := lockAccounts(ctx, tx, lockSet(covered, entries)); err != nil {
		return err
	}
	if err := checkHeadroom(entries, func(acct string) (Totals, error) {
		return totalsFor(ctx, tx, acct)
	}); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO ledger_entries (`+pgEntryColumns+`)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.Reference, e.AccountNumber, string(e.TransactionType), e.Credit, e.Debit,
			e.IsReversed, e.IsDeleted, e.TransactionDate.UTC(), e.Description)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert entries: %w", err)
	}

	if err := checkCovered(ctx, tx, covered); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Totals sums credits and debits of live entries.
func (s *PostgresStore) Totals(ctx context.Context, accountNumber string) (Totals, error) {
	return totalsFor(ctx, s.db, accountNumber)
}

// History lists entries newest first.
func (s *PostgresStore) History(ctx context.Context, accountNumber string, filter *DateFilter) ([]Entry, error) {
	query := `SELECT ` + pgEntryColumns + ` FROM ledger_entries
        WHERE account_number = $1 AND is_deleted = false`
	args := []any{accountNumber}
	if filter != nil {
		query += ` AND transaction_date >= $2 AND transaction_date <= $3`
		args = append(args, filter.StartDate.UTC(), filter.EndDate.UTC())
	}
	query += ` ORDER BY transaction_date DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ByReference lists every live side of a posting.
func (s *PostgresStore) ByReference(ctx context.Context, reference string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+pgEntryColumns+` FROM ledger_entries
        WHERE reference = $1 AND is_deleted = false ORDER BY account_number`, reference)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// MarkReversed flags the posting in one UPDATE.
func (s *PostgresStore) MarkReversed(ctx context.Context, reference string, covered []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := lockAccounts(ctx, tx, covered); err != nil {
		return 0, err
	}
	cmd, err := tx.Exec(ctx, `UPDATE ledger_entries SET is_reversed = true
        WHERE reference = $1 AND is_reversed = false AND is_deleted = false`, reference)
	if err != nil {
		return 0, err
	}
	if err := checkCovered(ctx, tx, covered); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func totalsFor(ctx context.Context, q querier, accountNumber string) (Totals, error) {
	const query = `
        SELECT COALESCE(SUM(credit), 0)::bigint, COALESCE(SUM(debit), 0)::bigint
        FROM ledger_entries
        WHERE account_number = $1 AND is_reversed = false AND is_deleted = false`
	var t Totals
	if err := q.QueryRow(ctx, query, accountNumber).Scan(&t.Credit, &t.Debit); err != nil {
		return Totals{}, err
	}
	return t, nil
}

func lockAccounts(ctx context.Context, tx pgx.Tx, accounts []string) error {
	ordered := append([]string(nil), accounts...)
	sort.Strings(ordered)
	for _, acct := range ordered {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, acct); err != nil {
			return fmt.Errorf("lock account %s: %w", acct, err)
		}
	}
	return nil
}

// lockSet is covered plus every account of entries except the pseudo
// accounts, which every funding or withdrawal shares.
func lockSet(covered []string, entries []Entry) []string {
	set := append([]string(nil), covered...)
	for _, acct := range accountsOf(entries) {
		if acct == FundingAccount || acct == WithdrawalAccount {
			continue
		}
		set = append(set, acct)
	}
	sort.Strings(set)
	var out []string
	for _, acct := range set {
		if len(out) > 0 && out[len(out)-1] == acct {
			continue
		}
		out = append(out, acct)
	}
	return out
}

func checkCovered(ctx context.Context, tx pgx.Tx, covered []string) error {
	for _, acct := range covered {
		t, err := totalsFor(ctx, tx, acct)
		if err != nil {
			return err
		}
		if t.Credit-t.Debit < 0 {
			return ErrInsufficientFunds
		}
	}
	return nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			txType  string
			txnDate time.Time
		)
		if err := rows.Scan(&e.ID, &e.Reference, &e.AccountNumber, &txType, &e.Credit, &e.Debit,
			&e.IsReversed, &e.IsDeleted, &txnDate, &e.Description); err != nil {
			return nil, err
		}
		e.TransactionType = TransactionType(txType)
		e.TransactionDate = txnDate.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
