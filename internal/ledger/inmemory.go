package ledger

import (
	"context"
	"sort"
	"sync"
)

type inMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemoryStore creates a concurrency-safe in-memory store useful for
// unit tests and local development.
func NewInMemoryStore() Store {
	return &inMemoryStore{}
}

func (s *inMemoryStore) Append(_ context.Context, entries []Entry, covered []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkHeadroom(entries, func(acct string) (Totals, error) {
		return totalsOf(s.entries, acct), nil
	}); err != nil {
		return err
	}
	for _, acct := range covered {
		t := totalsOf(s.entries, acct)
		b := totalsOf(entries, acct)
		if t.Credit+b.Credit-t.Debit-b.Debit < 0 {
			return ErrInsufficientFunds
		}
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *inMemoryStore) Totals(_ context.Context, accountNumber string) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return totalsOf(s.entries, accountNumber), nil
}

func (s *inMemoryStore) History(_ context.Context, accountNumber string, filter *DateFilter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if e.AccountNumber != accountNumber || e.IsDeleted {
			continue
		}
		if filter != nil && (e.TransactionDate.Before(filter.StartDate) || e.TransactionDate.After(filter.EndDate)) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransactionDate.After(out[j].TransactionDate)
	})
	return out, nil
}

func (s *inMemoryStore) ByReference(_ context.Context, reference string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if e.Reference == reference && !e.IsDeleted {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *inMemoryStore) MarkReversed(_ context.Context, reference string, covered []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx []int
	for i, e := range s.entries {
		if e.Reference == reference && !e.IsReversed && !e.IsDeleted {
			idx = append(idx, i)
		}
	}
	var removed []Entry
	for _, i := range idx {
		removed = append(removed, s.entries[i])
	}
	for _, acct := range covered {
		t := totalsOf(s.entries, acct)
		r := totalsOf(removed, acct)
		if (t.Credit-r.Credit)-(t.Debit-r.Debit) < 0 {
			return 0, ErrInsufficientFunds
		}
	}
	for _, i := range idx {
		s.entries[i].IsReversed = true
	}
	return int64(len(idx)), nil
}

func totalsOf(entries []Entry, accountNumber string) Totals {
	var t Totals
	for _, e := range entries {
		if e.AccountNumber != accountNumber || e.IsReversed || e.IsDeleted {
			continue
		}
		t.Credit += e.Credit
		t.Debit += e.Debit
	}
	return t
}
