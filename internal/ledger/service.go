package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service computes balances and records balanced postings. It never rewrites
// an entry; the only mutation it performs on stored rows is the reversal flag.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService builds a ledger service on top of store.
func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// NewReference returns an operation-unique token grouping the sides of a posting.
func NewReference() string {
	return uuid.NewString()
}

// GetAccountBalance derives the balance of accountNumber from its entries.
// An account without entries has a zero balance.
func (s *Service) GetAccountBalance(ctx context.Context, accountNumber string) (AccountBalance, error) {
	totals, err := s.store.Totals(ctx, accountNumber)
	if err != nil {
		return AccountBalance{}, fmt.Errorf("sum entries for %s: %w", accountNumber, err)
	}
	net := totals.Credit - totals.Debit
	return AccountBalance{
		AccountNumber:    accountNumber,
		AvailableBalance: net,
		LedgerBalance:    net,
	}, nil
}

// AddLedgerEntry appends entries as one atomic batch.
func (s *Service) AddLedgerEntry(ctx context.Context, entries ...Entry) ([]Entry, error) {
	return s.append(ctx, nil, entries)
}

// AddCoveredEntries appends entries as one atomic batch, failing with
// ErrInsufficientFunds if any covered account would go negative. Any store
// also refuses with ErrBalanceOverflow a batch whose account totals would
// no longer fit in int64.
func (s *Service) AddCoveredEntries(ctx context.Context, covered []string, entries ...Entry) ([]Entry, error) {
	return s.append(ctx, covered, entries)
}

func (s *Service) append(ctx context.Context, covered []string, entries []Entry) ([]Entry, error) {
	if err := ValidateBatch(entries); err != nil {
		return nil, err
	}
	now := s.now()
	batch := make([]Entry, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.TransactionDate.IsZero() {
			e.TransactionDate = now
		}
		e.IsReversed = false
		e.IsDeleted = false
		batch[i] = e
	}
	if err := s.store.Append(ctx, batch, covered); err != nil {
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrBalanceOverflow) {
			return nil, err
		}
		return nil, fmt.Errorf("append entries: %w", err)
	}
	return batch, nil
}

// TransactionHistory lists the entries of accountNumber newest first.
func (s *Service) TransactionHistory(ctx context.Context, accountNumber string, filter *DateFilter) ([]Entry, error) {
	entries, err := s.store.History(ctx, accountNumber, filter)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", accountNumber, err)
	}
	return entries, nil
}

// TransactionInformation returns every side of the posting named by reference.
func (s *Service) TransactionInformation(ctx context.Context, reference string) ([]Entry, error) {
	entries, err := s.store.ByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("entries for %s: %w", reference, err)
	}
	if len(entries) == 0 {
		return nil, ErrTransactionNotFound
	}
	return entries, nil
}

// Reverse flags every entry of reference as reversed. Amounts are left as
// they were; reversed entries simply drop out of balance aggregation.
func (s *Service) Reverse(ctx context.Context, reference string, covered []string) ([]Entry, error) {
	entries, err := s.TransactionInformation(ctx, reference)
	if err != nil {
		return nil, err
	}
	n, err := s.store.MarkReversed(ctx, reference, covered)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("reverse %s: %w", reference, err)
	}
	if n == 0 {
		return nil, ErrAlreadyReversed
	}
	for i := range entries {
		entries[i].IsReversed = true
	}
	return entries, nil
}

// ValidateBatch checks the double-entry rule: one reference, non-negative
// amounts, and credits equal to debits.
func ValidateBatch(entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: empty batch", ErrUnbalancedBatch)
	}
	ref := entries[0].Reference
	if ref == "" {
		return fmt.Errorf("%w: missing reference", ErrUnbalancedBatch)
	}
	var sum Totals
	for _, e := range entries {
		if e.Reference != ref {
			return fmt.Errorf("%w: mixed references %q and %q", ErrUnbalancedBatch, ref, e.Reference)
		}
		if e.Credit < 0 || e.Debit < 0 {
			return fmt.Errorf("%w: negative amount on %s", ErrUnbalancedBatch, e.AccountNumber)
		}
		if e.AccountNumber == "" {
			return fmt.Errorf("%w: missing account number", ErrUnbalancedBatch)
		}
		if !e.TransactionType.Valid() {
			return fmt.Errorf("%w: unknown transaction type %q", ErrUnbalancedBatch, e.TransactionType)
		}
		var ok bool
		if sum, ok = sum.add(e); !ok {
			return fmt.Errorf("%w: amounts overflow", ErrUnbalancedBatch)
		}
	}
	if sum.Credit != sum.Debit {
		return fmt.Errorf("%w: credit %d != debit %d", ErrUnbalancedBatch, sum.Credit, sum.Debit)
	}
	return nil
}
