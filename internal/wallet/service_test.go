package wallet

import (
	"context"
	"errors"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/infra"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/money"
	"github.com/congo-pay/walletledger/internal/notification"
)

type fixture struct {
	svc      *Service
	ledger   *ledger.Service
	users    identity.Repository
	repo     Repository
	notifier *notification.Recorder
}

type sequenceNumbers struct {
	mu      sync.Mutex
	numbers []string
}

func (s *sequenceNumbers) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.numbers) == 0 {
		return "", errors.New("exhausted")
	}
	n := s.numbers[0]
	s.numbers = s.numbers[1:]
	return n, nil
}

type backend struct {
	wallets Repository
	users   identity.Repository
	ledger  ledger.Store
}

func backends(t *testing.T) map[string]func(t *testing.T) backend {
	return map[string]func(t *testing.T) backend{
		"memory": func(t *testing.T) backend {
			return backend{wallets: NewMemoryRepository(), users: identity.NewMemoryRepository(), ledger: ledger.NewInMemoryStore()}
		},
		"sqlite": func(t *testing.T) backend {
			db, err := infra.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "wallet.db"))
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return backend{wallets: NewSQLiteRepository(db), users: identity.NewSQLiteRepository(db), ledger: ledger.NewSQLiteStore(db)}
		},
	}
}

func newFixture(t *testing.T, b backend, numbers NumberGenerator) fixture {
	t.Helper()
	led := ledger.NewService(b.ledger)
	rec := &notification.Recorder{}
	svc := NewService(Deps{
		Repo:     b.wallets,
		Users:    b.users,
		Ledger:   led,
		Numbers:  numbers,
		Notifier: rec,
		Logger:   logging.Discard(),
	})
	return fixture{svc: svc, ledger: led, users: b.users, repo: b.wallets, notifier: rec}
}

func (f fixture) user(t *testing.T, id, email string) identity.Party {
	t.Helper()
	u := identity.User{ID: id, Email: email, PasswordHash: []byte("x"), FirstName: "Test", LastName: "User", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u.Party()
}

func (f fixture) wallet(t *testing.T, party identity.Party) string {
	t.Helper()
	res := f.svc.CreateUserWallet(context.Background(), party)
	require.True(t, res.Status, res.Message)
	return res.Data.(Wallet).AccountNumber
}

func (f fixture) balance(t *testing.T, acct string) int64 {
	t.Helper()
	b, err := f.ledger.GetAccountBalance(context.Background(), acct)
	require.NoError(t, err)
	return b.AvailableBalance
}

func numbers(n ...string) *sequenceNumbers { return &sequenceNumbers{numbers: n} }

func TestFundWithdrawScenario(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, mk(t), numbers("1000000001"))
			ctx := context.Background()
			acct := f.wallet(t, f.user(t, "u1", "u1@example.com"))

			res := f.svc.FundWallet(ctx, acct, 50_000)
			require.True(t, res.Status, res.Message)
			assert.Equal(t, "Wallet successfully funded", res.Message)
			assert.NotEmpty(t, res.Data.(Receipt).Reference)

			res = f.svc.WithdrawFromWallet(ctx, acct, 12_000)
			require.True(t, res.Status, res.Message)
			assert.Equal(t, "Wallet withdrawal successful", res.Message)
			assert.Equal(t, int64(38_000), f.balance(t, acct))

			res = f.svc.WithdrawFromWallet(ctx, acct, 38_001)
			assert.False(t, res.Status)
			assert.Equal(t, http.StatusBadRequest, res.Code)
			assert.Equal(t, "Insufficient funds", res.Message)

			res = f.svc.WithdrawFromWallet(ctx, acct, 38_000)
			require.True(t, res.Status, res.Message)
			assert.Equal(t, int64(0), f.balance(t, acct))

			got := f.svc.GetWallet(ctx, acct)
			require.True(t, got.Status)
			assert.Equal(t, "Wallet retrieved successfully", got.Message)
			assert.Equal(t, int64(0), got.Data.(Details).Balance.LedgerBalance)
		})
	}
}

func TestPostingsBalanceAcrossAccounts(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers("1000000001", "1000000002"))
	ctx := context.Background()
	a := f.wallet(t, f.user(t, "u1", "a@example.com"))
	b := f.wallet(t, f.user(t, "u2", "b@example.com"))

	require.True(t, f.svc.FundWallet(ctx, a, 10_000).Status)
	require.True(t, f.svc.TransferBetweenWallets(ctx, a, b, 4_000).Status)
	require.True(t, f.svc.WithdrawFromWallet(ctx, b, 1_500).Status)

	sum := f.balance(t, a) + f.balance(t, b) +
		f.balance(t, ledger.FundingAccount) + f.balance(t, ledger.WithdrawalAccount)
	assert.Zero(t, sum)
	assert.Equal(t, int64(6_000), f.balance(t, a))
	assert.Equal(t, int64(2_500), f.balance(t, b))
}

func TestTransferValidationOrder(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers("1000000001", "1000000002"))
	ctx := context.Background()
	a := f.wallet(t, f.user(t, "u1", "a@example.com"))
	b := f.wallet(t, f.user(t, "u2", "b@example.com"))

	cases := []struct {
		name        string
		src, dst    string
		amount      int64
		wantMessage string
	}{
		{"non-positive amount", "missing", "missing", 0, "Amount must be greater than zero"},
		{"missing source", "9999999999", b, 100, "Source wallet does not exist"},
		{"same wallet", a, a, 100, "Source wallet and destination wallet cannot be the same"},
		{"missing destination", a, "9999999999", 100, "Destination wallet does not exist"},
		{"insufficient", a, b, 100, "Insufficient funds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.svc.TransferBetweenWallets(ctx, tc.src, tc.dst, tc.amount)
			assert.False(t, res.Status)
			assert.Equal(t, http.StatusBadRequest, res.Code)
			assert.Equal(t, tc.wantMessage, res.Message)
		})
	}
	assert.Empty(t, f.notifier.Messages())
}

func TestTransferNotifiesDestinationOwner(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers("1000000001", "1000000002"))
	ctx := context.Background()
	a := f.wallet(t, f.user(t, "u1", "a@example.com"))
	b := f.wallet(t, f.user(t, "u2", "b@example.com"))
	require.True(t, f.svc.FundWallet(ctx, a, 5_000).Status)

	res := f.svc.TransferBetweenWallets(ctx, a, b, 5_000)
	require.True(t, res.Status, res.Message)
	assert.Equal(t, "Wallet transfer successful", res.Message)
	receipt := res.Data.(Receipt)
	require.Len(t, receipt.Entries, 2)
	for _, e := range receipt.Entries {
		assert.Equal(t, ledger.TypeWalletTransfer, e.TransactionType)
		assert.Equal(t, "Transfer between accounts -  "+a+" >> "+b, e.Description)
	}

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.KindWalletTransfer, msgs[0].Kind)
	assert.Equal(t, "u2", msgs[0].Destination)
	assert.Equal(t, receipt.Reference, msgs[0].Reference)
}

func TestFundUnknownWalletWritesNothing(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers())
	ctx := context.Background()

	res := f.svc.FundWallet(ctx, "0000000000", 1_000)
	assert.Equal(t, "Wallet does not exist", res.Message)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Zero(t, f.balance(t, ledger.FundingAccount))

	res = f.svc.FundWallet(ctx, "0000000000", -5)
	assert.Equal(t, "Amount must be greater than zero", res.Message)
}

func TestConcurrentWithdrawalsOnlyOneSucceeds(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, mk(t), numbers("1000000001"))
			ctx := context.Background()
			acct := f.wallet(t, f.user(t, "u1", "u1@example.com"))
			require.True(t, f.svc.FundWallet(ctx, acct, 100).Status)

			const workers = 10
			var wg sync.WaitGroup
			results := make(chan bool, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results <- f.svc.WithdrawFromWallet(ctx, acct, 100).Status
				}()
			}
			wg.Wait()
			close(results)

			wins := 0
			for ok := range results {
				if ok {
					wins++
				}
			}
			assert.Equal(t, 1, wins)
			assert.Zero(t, f.balance(t, acct))
		})
	}
}

func TestConcurrentOpposingTransfers(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers("1000000001", "1000000002"))
	ctx := context.Background()
	a := f.wallet(t, f.user(t, "u1", "a@example.com"))
	b := f.wallet(t, f.user(t, "u2", "b@example.com"))
	require.True(t, f.svc.FundWallet(ctx, a, 1_000).Status)
	require.True(t, f.svc.FundWallet(ctx, b, 1_000).Status)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); f.svc.TransferBetweenWallets(ctx, a, b, 10) }()
		go func() { defer wg.Done(); f.svc.TransferBetweenWallets(ctx, b, a, 10) }()
	}
	wg.Wait()

	assert.Equal(t, int64(2_000), f.balance(t, a)+f.balance(t, b))
	assert.Equal(t, 0, f.svc.locks.Len())
}

func TestGetWalletIsRepeatable(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers("1000000001"))
	ctx := context.Background()
	acct := f.wallet(t, f.user(t, "u1", "u1@example.com"))
	require.True(t, f.svc.FundWallet(ctx, acct, 700).Status)

	first := f.svc.GetWallet(ctx, acct)
	second := f.svc.GetWallet(ctx, acct)
	assert.Equal(t, first, second)

	missing := f.svc.GetWallet(ctx, "0000000000")
	assert.Equal(t, "Wallet does not exist", missing.Message)
}

func TestCreateUserWallet(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t, backends(t)["memory"](t), numbers("1000000001"))
		res := f.svc.CreateUserWallet(context.Background(), identity.Party{ID: "ghost"})
		assert.Equal(t, "User does not exist", res.Message)
		assert.Equal(t, http.StatusBadRequest, res.Code)
	})

	t.Run("retries duplicate account numbers", func(t *testing.T) {
		f := newFixture(t, backends(t)["memory"](t), numbers("1000000001", "1000000001", "1000000002"))
		party := f.user(t, "u1", "u1@example.com")
		f.wallet(t, party)

		res := f.svc.CreateUserWallet(context.Background(), party)
		require.True(t, res.Status, res.Message)
		assert.Equal(t, http.StatusCreated, res.Code)
		assert.Equal(t, "1000000002", res.Data.(Wallet).AccountNumber)
		assert.True(t, res.Data.(Wallet).IsActive)

		list := f.svc.ListUserWallets(context.Background(), party)
		require.True(t, list.Status)
		assert.Len(t, list.Data.([]Details), 2)
	})

	t.Run("gives up after repeated collisions", func(t *testing.T) {
		f := newFixture(t, backends(t)["memory"](t), numbers("1", "1", "1", "1"))
		party := f.user(t, "u1", "u1@example.com")
		f.wallet(t, party)

		res := f.svc.CreateUserWallet(context.Background(), party)
		assert.Equal(t, http.StatusInternalServerError, res.Code)
		assert.True(t, strings.HasPrefix(res.Message, "Could not create user wallet: "))
	})
}

type brokenStore struct{ ledger.Store }

func (brokenStore) Totals(context.Context, string) (ledger.Totals, error) {
	return ledger.Totals{}, errors.New("connection reset")
}

type panickingRepo struct{ Repository }

func (panickingRepo) FindByAccountNumber(context.Context, string) (Wallet, error) {
	panic("repository exploded")
}

func TestCollaboratorFailuresBecomeInternalErrors(t *testing.T) {
	b := backends(t)["memory"](t)
	b.ledger = brokenStore{b.ledger}
	f := newFixture(t, b, numbers("1000000001"))
	acct := f.wallet(t, f.user(t, "u1", "u1@example.com"))

	res := f.svc.WithdrawFromWallet(context.Background(), acct, 10)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Contains(t, res.Message, "Could not withdraw from user wallet: ")
	assert.Contains(t, res.Message, "connection reset")

	p := backends(t)["memory"](t)
	p.wallets = panickingRepo{p.wallets}
	pf := newFixture(t, p, numbers())
	res = pf.svc.FundWallet(context.Background(), "1000000001", 10)
	assert.False(t, res.Status)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Equal(t, 0, pf.svc.locks.Len(), "lock must be released after a panic")
}

func TestTransactionHistory(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers("1000000001"))
	ctx := context.Background()
	acct := f.wallet(t, f.user(t, "u1", "u1@example.com"))
	require.True(t, f.svc.FundWallet(ctx, acct, 300).Status)
	require.True(t, f.svc.WithdrawFromWallet(ctx, acct, 100).Status)

	res := f.svc.TransactionHistory(ctx, acct, nil)
	require.True(t, res.Status, res.Message)
	hist := res.Data.(History)
	require.Len(t, hist.Entries, 2)
	assert.Equal(t, ledger.TypeWithdrawal, hist.Entries[0].TransactionType)

	past := ledger.DateFilter{StartDate: time.Unix(0, 0).UTC(), EndDate: time.Unix(3600, 0).UTC()}
	res = f.svc.TransactionHistory(ctx, acct, &past)
	require.True(t, res.Status)
	assert.Empty(t, res.Data.(History).Entries)

	res = f.svc.TransactionHistory(ctx, "0000000000", nil)
	assert.Equal(t, "Wallet does not exist", res.Message)
}

func TestReverseTransaction(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers("1000000001", "1000000002"))
	ctx := context.Background()
	a := f.wallet(t, f.user(t, "u1", "a@example.com"))
	b := f.wallet(t, f.user(t, "u2", "b@example.com"))

	funded := f.svc.FundWallet(ctx, a, 1_000)
	require.True(t, funded.Status)
	transfer := f.svc.TransferBetweenWallets(ctx, a, b, 600)
	require.True(t, transfer.Status)
	require.True(t, f.svc.WithdrawFromWallet(ctx, b, 600).Status)

	res := f.svc.ReverseTransaction(ctx, transfer.Data.(Receipt).Reference)
	assert.Equal(t, "Insufficient funds to reverse transaction", res.Message)

	res = f.svc.ReverseTransaction(ctx, funded.Data.(Receipt).Reference)
	assert.Equal(t, "Insufficient funds to reverse transaction", res.Message, "a holds only 400 of the 1000 funded")

	require.True(t, f.svc.FundWallet(ctx, b, 600).Status)
	res = f.svc.ReverseTransaction(ctx, transfer.Data.(Receipt).Reference)
	require.True(t, res.Status, res.Message)
	assert.Equal(t, int64(1_000), f.balance(t, a))
	assert.Equal(t, int64(0), f.balance(t, b))

	res = f.svc.ReverseTransaction(ctx, transfer.Data.(Receipt).Reference)
	assert.Equal(t, "Transaction already reversed", res.Message)

	res = f.svc.ReverseTransaction(ctx, "no-such-reference")
	assert.Equal(t, "Transaction does not exist", res.Message)

	var reversed int
	for _, m := range f.notifier.Messages() {
		if m.Kind == notification.KindTransactionReversed {
			reversed++
		}
	}
	assert.Equal(t, 2, reversed)
}

func TestCreditsCannotOverflowBalance(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, mk(t), numbers("1000000001", "1000000002"))
			ctx := context.Background()
			acct := f.wallet(t, f.user(t, "u1", "u1@example.com"))
			other := f.wallet(t, f.user(t, "u2", "u2@example.com"))

			res := f.svc.FundWallet(ctx, acct, math.MaxInt64)
			assert.Equal(t, http.StatusBadRequest, res.Code)
			assert.Equal(t, "Amount must not exceed 1000000000000.00", res.Message)
			res = f.svc.TransferBetweenWallets(ctx, other, acct, money.MaxAmount+1)
			assert.Equal(t, "Amount must not exceed 1000000000000.00", res.Message)
			assert.Zero(t, f.balance(t, acct))

			// Bring acct within ten minor units of the int64 ceiling.
			ref := ledger.NewReference()
			_, err := f.ledger.AddLedgerEntry(ctx,
				ledger.Entry{Reference: ref, AccountNumber: acct, TransactionType: ledger.TypeFunding, Credit: math.MaxInt64 - 10, Description: "opening"},
				ledger.Entry{Reference: ref, AccountNumber: "opening:balance", TransactionType: ledger.TypeFunding, Debit: math.MaxInt64 - 10, Description: "opening"},
			)
			require.NoError(t, err)

			res = f.svc.FundWallet(ctx, acct, money.MaxAmount)
			assert.Equal(t, http.StatusBadRequest, res.Code)
			assert.Equal(t, "Wallet balance limit exceeded", res.Message)

			require.True(t, f.svc.FundWallet(ctx, other, 100).Status)
			res = f.svc.TransferBetweenWallets(ctx, other, acct, 100)
			assert.Equal(t, http.StatusBadRequest, res.Code)
			assert.Equal(t, "Destination wallet balance limit exceeded", res.Message)
			assert.Equal(t, int64(100), f.balance(t, other))

			got := f.svc.GetWallet(ctx, acct)
			require.True(t, got.Status, got.Message)
			assert.Equal(t, int64(math.MaxInt64-10), got.Data.(Details).Balance.AvailableBalance)

			res = f.svc.WithdrawFromWallet(ctx, acct, 10)
			require.True(t, res.Status, res.Message)
			res = f.svc.TransferBetweenWallets(ctx, other, acct, 100)
			assert.Equal(t, "Destination wallet balance limit exceeded", res.Message)
			require.True(t, f.svc.FundWallet(ctx, acct, 10).Status)
			assert.Equal(t, int64(math.MaxInt64-10), f.balance(t, acct))
		})
	}
}
