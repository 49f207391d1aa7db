package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrInsufficientFunds occurs when a covered account would end a posting
	// with a negative balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnbalancedBatch rejects a batch whose credits and debits differ, that
	// is empty, mixes references or carries a negative amount.
	ErrUnbalancedBatch = errors.New("unbalanced ledger batch")

	// ErrTransactionNotFound indicates no entries carry the given reference.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadyReversed indicates the entries of a reference are already flagged.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrBalanceOverflow rejects a batch that would push the credit or debit
	// total of an account past what int64 minor units can hold.
	ErrBalanceOverflow = errors.New("account totals would overflow")
)

const (
	// FundingAccount is the pseudo account debited when a wallet is funded.
	FundingAccount = "funding:source"
	// WithdrawalAccount is the pseudo account credited when a wallet is drained.
	WithdrawalAccount = "withdrawal:sink"
)

// TransactionType classifies the logical operation an entry belongs to.
type TransactionType string

const (
	TypeFunding        TransactionType = "funding"
	TypeTransfer       TransactionType = "transfer"
	TypeWithdrawal     TransactionType = "withdrawal"
	TypeWalletTransfer TransactionType = "wallet_transfer"
	TypePayment        TransactionType = "payment"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeFunding, TypeTransfer, TypeWithdrawal, TypeWalletTransfer, TypePayment:
		return true
	}
	return false
}

// Entry is one immutable side of a posting. Amounts are minor units.
type Entry struct {
	ID              string          `json:"id"`
	Reference       string          `json:"reference"`
	AccountNumber   string          `json:"accountNumber"`
	TransactionType TransactionType `json:"transactionType"`
	Credit          int64           `json:"credit"`
	Debit           int64           `json:"debit"`
	IsReversed      bool            `json:"isReversed"`
	IsDeleted       bool            `json:"isDeleted"`
	TransactionDate time.Time       `json:"transactionDate"`
	Description     string          `json:"description"`
}

// AccountBalance is derived from the ledger on every read.
type AccountBalance struct {
	AccountNumber    string `json:"accountNumber"`
	AvailableBalance int64  `json:"availableBalance"`
	LedgerBalance    int64  `json:"ledgerBalance"`
}

// Totals is the credit and debit aggregation for one account.
type Totals struct {
	Credit int64
	Debit  int64
}

// add returns t with the amounts of e included, or false when either total
// would exceed math.MaxInt64. Amounts are non-negative.
func (t Totals) add(e Entry) (Totals, bool) {
	if e.Credit > math.MaxInt64-t.Credit || e.Debit > math.MaxInt64-t.Debit {
		return t, false
	}
	t.Credit += e.Credit
	t.Debit += e.Debit
	return t, true
}

// DateFilter bounds a history query, both ends inclusive.
type DateFilter struct {
	StartDate time.Time
	EndDate   time.Time
}

// Today returns the filter covering the calendar day of now in UTC.
func Today(now time.Time) DateFilter {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return DateFilter{StartDate: start, EndDate: start.Add(24*time.Hour - time.Nanosecond)}
}

// Store is the append-only persistence the ledger runs on. Append and
// MarkReversed must be atomic: either every row changes or none does.
type Store interface {
	// Append inserts entries. Each account in covered must have a
	// non-negative balance once the entries are included, checked in the same
	// transaction as the insert; otherwise ErrInsufficientFunds is returned
	// and nothing is written.
	Append(ctx context.Context, entries []Entry, covered []string) error
	// Totals sums credit and debit over non-reversed, non-deleted entries.
	Totals(ctx context.Context, accountNumber string) (Totals, error)
	// History lists non-deleted entries newest first, optionally bounded.
	History(ctx context.Context, accountNumber string, filter *DateFilter) ([]Entry, error)
	// ByReference lists the non-deleted entries sharing reference.
	ByReference(ctx context.Context, reference string) ([]Entry, error)
	// MarkReversed flags every live entry of reference as reversed and returns
	// the number of rows flagged. The covered check matches Append.
	MarkReversed(ctx context.Context, reference string, covered []string) (int64, error)
}

// accountsOf lists the distinct accounts of entries in sorted order.
func accountsOf(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var out []string
	for _, e := range entries {
		if _, ok := seen[e.AccountNumber]; ok {
			continue
		}
		seen[e.AccountNumber] = struct{}{}
		out = append(out, e.AccountNumber)
	}
	sort.Strings(out)
	return out
}

// checkHeadroom returns ErrBalanceOverflow if appending entries would push
// the totals of any account they touch past int64. current reads the stored
// totals inside the caller's transaction.
func checkHeadroom(entries []Entry, current func(accountNumber string) (Totals, error)) error {
	for _, acct := range accountsOf(entries) {
		t, err := current(acct)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.AccountNumber != acct {
				continue
			}
			var ok bool
			if t, ok = t.add(e); !ok {
				return fmt.Errorf("%w: %s", ErrBalanceOverflow, acct)
			}
		}
	}
	return nil
}
