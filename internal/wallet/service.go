package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/keylock"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/money"
	"github.com/congo-pay/walletledger/internal/notification"
	"github.com/congo-pay/walletledger/internal/response"
)

const generateAttempts = 3

// UserLookup resolves wallet owners.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
}

// NumberGenerator issues account numbers for new wallets.
type NumberGenerator interface {
	Generate() (string, error)
}

// Deps collects the collaborators of a Service.
type Deps struct {
	Repo     Repository
	Users    UserLookup
	Ledger   *ledger.Service
	Numbers  NumberGenerator
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Service implements wallet operations on top of the ledger. Every
// mutation runs under the lock of the accounts it touches.
type Service struct {
	repo     Repository
	users    UserLookup
	ledger   *ledger.Service
	numbers  NumberGenerator
	notifier notification.Notifier
	logger   *slog.Logger
	locks    *keylock.Locker
	now      func() time.Time
}

// NewService builds a wallet service. Repo, Users, Ledger and Numbers are
// required.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	return &Service{
		repo:     d.Repo,
		users:    d.Users,
		ledger:   d.Ledger,
		numbers:  d.Numbers,
		notifier: notifier,
		logger:   logger,
		locks:    keylock.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateUserWallet provisions a wallet for the acting party.
func (s *Service) CreateUserWallet(ctx context.Context, party identity.Party) (res response.Response) {
	const op = "Could not create user wallet"
	defer s.recoverInto(ctx, op, &res)

	if _, err := s.users.FindByID(ctx, party.ID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return response.BadRequest("User does not exist")
		}
		return s.internal(ctx, op, err)
	}

	for attempt := 1; ; attempt++ {
		number, err := s.numbers.Generate()
		if err != nil {
			return s.internal(ctx, op, err)
		}
		wallet := Wallet{
			ID:            uuid.NewString(),
			UserID:        party.ID,
			AccountNumber: number,
			IsActive:      true,
			CreatedAt:     s.now(),
		}
		err = s.repo.Create(ctx, wallet)
		if err == nil {
			s.logger.InfoContext(ctx, "wallet created",
				slog.String("user_id", party.ID),
				slog.String("account_number", number))
			return response.Created("User wallet created successfully", wallet)
		}
		if !errors.Is(err, ErrDuplicateAccountNumber) || attempt == generateAttempts {
			return s.internal(ctx, op, err)
		}
		s.logger.WarnContext(ctx, "account number collision", slog.Int("attempt", attempt))
	}
}

// GetWallet returns a wallet and its ledger balance.
func (s *Service) GetWallet(ctx context.Context, accountNumber string) (res response.Response) {
	const op = "Could not get user wallet"
	defer s.recoverInto(ctx, op, &res)

	wallet, err := s.repo.FindByAccountNumber(ctx, accountNumber)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return response.BadRequest("Wallet does not exist")
		}
		return s.internal(ctx, op, err)
	}
	details, err := s.details(ctx, wallet)
	if err != nil {
		return s.internal(ctx, op, err)
	}
	return response.Success("Wallet retrieved successfully", details)
}

// ListUserWallets returns every wallet owned by party with balances.
func (s *Service) ListUserWallets(ctx context.Context, party identity.Party) (res response.Response) {
	const op = "Could not get user wallets"
	defer s.recoverInto(ctx, op, &res)

	wallets, err := s.repo.FindByUser(ctx, party.ID)
	if err != nil {
		return s.internal(ctx, op, err)
	}
	out := make([]Details, 0, len(wallets))
	for _, w := range wallets {
		d, err := s.details(ctx, w)
		if err != nil {
			return s.internal(ctx, op, err)
		}
		out = append(out, d)
	}
	return response.Success("User wallets retrieved successfully", out)
}

// FundWallet credits accountNumber from the funding source.
func (s *Service) FundWallet(ctx context.Context, accountNumber string, amount int64) (res response.Response) {
	const op = "Could not fund user wallet"
	defer s.recoverInto(ctx, op, &res)

	if bad, ok := checkAmount(amount); !ok {
		return bad
	}
	return s.locked(ctx, op, []string{accountNumber}, func() response.Response {
		if _, err := s.repo.FindByAccountNumber(ctx, accountNumber); err != nil {
			if errors.Is(err, ErrWalletNotFound) {
				return response.BadRequest("Wallet does not exist")
			}
			return s.internal(ctx, op, err)
		}
		ref := ledger.NewReference()
		desc := fmt.Sprintf("Funding of account %s", accountNumber)
		entries, err := s.ledger.AddLedgerEntry(ctx,
			ledger.Entry{Reference: ref, AccountNumber: accountNumber, TransactionType: ledger.TypeFunding, Credit: amount, Description: desc},
			ledger.Entry{Reference: ref, AccountNumber: ledger.FundingAccount, TransactionType: ledger.TypeFunding, Debit: amount, Description: desc},
		)
		if errors.Is(err, ledger.ErrBalanceOverflow) {
			return response.BadRequest("Wallet balance limit exceeded")
		}
		if err != nil {
			return s.internal(ctx, op, err)
		}
		s.logger.InfoContext(ctx, "wallet funded",
			slog.String("account_number", accountNumber),
			slog.String("amount", money.Format(amount)),
			slog.String("reference", ref))
		return response.Success("Wallet successfully funded", Receipt{Reference: ref, Entries: entries})
	})
}

// WithdrawFromWallet debits accountNumber into the withdrawal sink.
func (s *Service) WithdrawFromWallet(ctx context.Context, accountNumber string, amount int64) (res response.Response) {
	const op = "Could not withdraw from user wallet"
	defer s.recoverInto(ctx, op, &res)

	if bad, ok := checkAmount(amount); !ok {
		return bad
	}
	return s.locked(ctx, op, []string{accountNumber}, func() response.Response {
		if _, err := s.repo.FindByAccountNumber(ctx, accountNumber); err != nil {
			if errors.Is(err, ErrWalletNotFound) {
				return response.BadRequest("Wallet does not exist")
			}
			return s.internal(ctx, op, err)
		}
		balance, err := s.ledger.GetAccountBalance(ctx, accountNumber)
		if err != nil {
			return s.internal(ctx, op, err)
		}
		if balance.AvailableBalance < amount {
			return response.BadRequest("Insufficient funds")
		}
		ref := ledger.NewReference()
		desc := fmt.Sprintf("Withdrawal from account %s", accountNumber)
		entries, err := s.ledger.AddCoveredEntries(ctx, []string{accountNumber},
			ledger.Entry{Reference: ref, AccountNumber: accountNumber, TransactionType: ledger.TypeWithdrawal, Debit: amount, Description: desc},
			ledger.Entry{Reference: ref, AccountNumber: ledger.WithdrawalAccount, TransactionType: ledger.TypeWithdrawal, Credit: amount, Description: desc},
		)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return response.BadRequest("Insufficient funds")
		}
		if err != nil {
			return s.internal(ctx, op, err)
		}
		s.logger.InfoContext(ctx, "wallet withdrawal",
			slog.String("account_number", accountNumber),
			slog.String("amount", money.Format(amount)),
			slog.String("reference", ref))
		return response.Success("Wallet withdrawal successful", Receipt{Reference: ref, Entries: entries})
	})
}

// TransferBetweenWallets moves amount from source to destination. The
// destination owner is notified once the posting lands.
func (s *Service) TransferBetweenWallets(ctx context.Context, source, destination string, amount int64) (res response.Response) {
	const op = "Could not transfer funds between wallets"
	defer s.recoverInto(ctx, op, &res)

	if bad, ok := checkAmount(amount); !ok {
		return bad
	}
	return s.locked(ctx, op, []string{source, destination}, func() response.Response {
		if _, err := s.repo.FindByAccountNumber(ctx, source); err != nil {
			if errors.Is(err, ErrWalletNotFound) {
				return response.BadRequest("Source wallet does not exist")
			}
			return s.internal(ctx, op, err)
		}
		if source == destination {
			return response.BadRequest("Source wallet and destination wallet cannot be the same")
		}
		dest, err := s.repo.FindByAccountNumber(ctx, destination)
		if err != nil {
			if errors.Is(err, ErrWalletNotFound) {
				return response.BadRequest("Destination wallet does not exist")
			}
			return s.internal(ctx, op, err)
		}
		balance, err := s.ledger.GetAccountBalance(ctx, source)
		if err != nil {
			return s.internal(ctx, op, err)
		}
		if balance.AvailableBalance < amount {
			return response.BadRequest("Insufficient funds")
		}

		ref := ledger.NewReference()
		desc := fmt.Sprintf("Transfer between accounts -  %s >> %s", source, destination)
		entries, err := s.ledger.AddCoveredEntries(ctx, []string{source},
			ledger.Entry{Reference: ref, AccountNumber: destination, TransactionType: ledger.TypeWalletTransfer, Credit: amount, Description: desc},
			ledger.Entry{Reference: ref, AccountNumber: source, TransactionType: ledger.TypeWalletTransfer, Debit: amount, Description: desc},
		)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return response.BadRequest("Insufficient funds")
		}
		if errors.Is(err, ledger.ErrBalanceOverflow) {
			return response.BadRequest("Destination wallet balance limit exceeded")
		}
		if err != nil {
			return s.internal(ctx, op, err)
		}

		s.logger.InfoContext(ctx, "wallet transfer",
			slog.String("source", source),
			slog.String("destination", destination),
			slog.String("amount", money.Format(amount)),
			slog.String("reference", ref))
		s.notify(ctx, notification.Message{
			Kind:        notification.KindWalletTransfer,
			Destination: dest.UserID,
			Reference:   ref,
			Body:        fmt.Sprintf("You received %s from %s into %s", money.Format(amount), source, destination),
		})
		return response.Success("Wallet transfer successful", Receipt{Reference: ref, Entries: entries})
	})
}

// TransactionHistory lists the ledger entries of a wallet. A nil filter
// means the current day.
func (s *Service) TransactionHistory(ctx context.Context, accountNumber string, filter *ledger.DateFilter) (res response.Response) {
	const op = "Could not get transaction history"
	defer s.recoverInto(ctx, op, &res)

	if _, err := s.repo.FindByAccountNumber(ctx, accountNumber); err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return response.BadRequest("Wallet does not exist")
		}
		return s.internal(ctx, op, err)
	}
	if filter == nil {
		today := ledger.Today(s.now())
		filter = &today
	}
	entries, err := s.ledger.TransactionHistory(ctx, accountNumber, filter)
	if err != nil {
		return s.internal(ctx, op, err)
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return response.Success("Transaction history retrieved successfully", History{AccountNumber: accountNumber, Entries: entries})
}

// ReverseTransaction flags every entry of reference as reversed, provided no
// wallet in the posting would end up negative.
func (s *Service) ReverseTransaction(ctx context.Context, reference string) (res response.Response) {
	const op = "Could not reverse transaction"
	defer s.recoverInto(ctx, op, &res)

	entries, err := s.ledger.TransactionInformation(ctx, reference)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		return response.BadRequest("Transaction does not exist")
	}
	if err != nil {
		return s.internal(ctx, op, err)
	}

	var accounts []string
	for _, e := range entries {
		if e.AccountNumber == ledger.FundingAccount || e.AccountNumber == ledger.WithdrawalAccount {
			continue
		}
		accounts = append(accounts, e.AccountNumber)
	}

	return s.locked(ctx, op, accounts, func() response.Response {
		reversed, err := s.ledger.Reverse(ctx, reference, accounts)
		switch {
		case errors.Is(err, ledger.ErrAlreadyReversed):
			return response.BadRequest("Transaction already reversed")
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return response.BadRequest("Insufficient funds to reverse transaction")
		case err != nil:
			return s.internal(ctx, op, err)
		}

		s.logger.InfoContext(ctx, "transaction reversed", slog.String("reference", reference))
		notified := make(map[string]struct{})
		for _, acct := range accounts {
			w, err := s.repo.FindByAccountNumber(ctx, acct)
			if err != nil {
				continue
			}
			if _, done := notified[w.UserID]; done {
				continue
			}
			notified[w.UserID] = struct{}{}
			s.notify(ctx, notification.Message{
				Kind:        notification.KindTransactionReversed,
				Destination: w.UserID,
				Reference:   reference,
				Body:        fmt.Sprintf("Transaction %s on %s was reversed", reference, acct),
			})
		}
		return response.Success("Transaction reversed successfully", Receipt{Reference: reference, Entries: reversed})
	})
}

func (s *Service) details(ctx context.Context, w Wallet) (Details, error) {
	balance, err := s.ledger.GetAccountBalance(ctx, w.AccountNumber)
	if err != nil {
		return Details{}, err
	}
	return Details{Wallet: w, Balance: balance}, nil
}

// locked runs fn while holding the account keys. A panic inside fn is
// recovered by the caller after the keys have been released.
// checkAmount bounds a single posting amount to (0, money.MaxAmount].
func checkAmount(amount int64) (response.Response, bool) {
	switch {
	case amount <= 0:
		return response.BadRequest("Amount must be greater than zero"), false
	case amount > money.MaxAmount:
		return response.BadRequest(fmt.Sprintf("Amount must not exceed %s", money.Format(money.MaxAmount))), false
	}
	return response.Response{}, true
}

func (s *Service) locked(ctx context.Context, op string, keys []string, fn func() response.Response) response.Response {
	var res response.Response
	if err := s.locks.WithLocks(keys, func() error {
		res = fn()
		return nil
	}); err != nil {
		return s.internal(ctx, op, err)
	}
	return res
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("kind", msg.Kind),
			slog.String("reference", msg.Reference),
			slog.Any("error", err))
	}
}

func (s *Service) recoverInto(ctx context.Context, op string, res *response.Response) {
	if r := recover(); r != nil {
		s.logger.ErrorContext(ctx, op, slog.Any("panic", r))
		*res = response.Error("INTERNAL_SERVER_ERROR", http.StatusInternalServerError)
	}
}

func (s *Service) internal(ctx context.Context, op string, err error) response.Response {
	s.logger.ErrorContext(ctx, op, slog.Any("error", err))
	return response.Internal(fmt.Sprintf("%s: %v", op, err))
}
