package wallet

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/money"
	"github.com/congo-pay/walletledger/internal/request"
	"github.com/congo-pay/walletledger/internal/response"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type amountRequest struct {
	AccountNumber string          `json:"accountNumber" validate:"required,numeric,len=10"`
	Amount        decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	AccountNumber            string          `json:"accountNumber" validate:"required,numeric,len=10"`
	DestinationAccountNumber string          `json:"destinationAccountNumber" validate:"required,numeric,len=10"`
	Amount                   decimal.Decimal `json:"amount"`
}

// Create provisions a wallet for the authenticated party.
func (h *Handler) Create(c *fiber.Ctx) error {
	party, err := partyOf(c)
	if err != nil {
		return err
	}
	return response.Send(c, h.service.CreateUserWallet(c.UserContext(), party))
}

// List returns the wallets of the authenticated party.
func (h *Handler) List(c *fiber.Ctx) error {
	party, err := partyOf(c)
	if err != nil {
		return err
	}
	return response.Send(c, h.service.ListUserWallets(c.UserContext(), party))
}

// Get returns a wallet and its balance.
func (h *Handler) Get(c *fiber.Ctx) error {
	return response.Send(c, h.service.GetWallet(c.UserContext(), c.Params("accountNumber")))
}

// Transactions lists ledger entries of a wallet within startDate..endDate,
// defaulting to today.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	filter, err := parseDateFilter(c.Query("startDate"), c.Query("endDate"), time.Now().UTC())
	if err != nil {
		return response.Send(c, response.BadRequest(err.Error()))
	}
	return response.Send(c, h.service.TransactionHistory(c.UserContext(), c.Params("accountNumber"), filter))
}

// Fund credits a wallet.
func (h *Handler) Fund(c *fiber.Ctx) error {
	var req amountRequest
	if res, ok := request.Bind(c, &req); !ok {
		return response.Send(c, res)
	}
	amount, res, ok := minorUnits(req.Amount)
	if !ok {
		return response.Send(c, res)
	}
	return response.Send(c, h.service.FundWallet(c.UserContext(), req.AccountNumber, amount))
}

// Withdraw debits a wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req amountRequest
	if res, ok := request.Bind(c, &req); !ok {
		return response.Send(c, res)
	}
	amount, res, ok := minorUnits(req.Amount)
	if !ok {
		return response.Send(c, res)
	}
	return response.Send(c, h.service.WithdrawFromWallet(c.UserContext(), req.AccountNumber, amount))
}

// Transfer moves funds between two wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if res, ok := request.Bind(c, &req); !ok {
		return response.Send(c, res)
	}
	amount, res, ok := minorUnits(req.Amount)
	if !ok {
		return response.Send(c, res)
	}
	return response.Send(c, h.service.TransferBetweenWallets(c.UserContext(), req.AccountNumber, req.DestinationAccountNumber, amount))
}

func partyOf(c *fiber.Ctx) (identity.Party, error) {
	party, ok := identity.PartyFrom(c.UserContext())
	if !ok {
		return identity.Party{}, fiber.NewError(http.StatusUnauthorized, "Unauthorized")
	}
	return party, nil
}

func minorUnits(amount decimal.Decimal) (int64, response.Response, bool) {
	minor, err := money.ToMinor(amount)
	switch {
	case errors.Is(err, money.ErrTooPrecise):
		return 0, response.BadRequest(fmt.Sprintf("Amount must have at most %d decimal places", money.Exponent)), false
	case err != nil:
		return 0, response.BadRequest(fmt.Sprintf("Amount must not exceed %s", money.Format(money.MaxAmount))), false
	case minor <= 0:
		return 0, response.BadRequest("Amount must be greater than zero"), false
	}
	return minor, response.Response{}, true
}

const dateLayout = "2006-01-02"

// parseDateFilter accepts RFC 3339 timestamps or plain dates. A plain end
// date covers its whole day. Missing bounds fall back to today.
func parseDateFilter(start, end string, now time.Time) (*ledger.DateFilter, error) {
	filter := ledger.Today(now)
	if start != "" {
		t, _, err := parseBound(start)
		if err != nil {
			return nil, fmt.Errorf("Invalid startDate %q", start)
		}
		filter.StartDate = t
	}
	if end != "" {
		t, dateOnly, err := parseBound(end)
		if err != nil {
			return nil, fmt.Errorf("Invalid endDate %q", end)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		filter.EndDate = t
	}
	if filter.EndDate.Before(filter.StartDate) {
		return nil, errors.New("endDate must not be before startDate")
	}
	return &filter, nil
}

func parseBound(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(dateLayout, v)
	return t.UTC(), true, err
}
