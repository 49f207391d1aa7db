package wallet

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/response"
)

func newTestApp(t *testing.T, f fixture, party *identity.Party) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: response.ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		if party != nil {
			c.SetUserContext(identity.WithParty(c.UserContext(), *party))
		}
		return c.Next()
	})
	h := NewHandler(f.svc)
	app.Post("/wallet", h.Create)
	app.Get("/wallet", h.List)
	app.Post("/wallet/fund", h.Fund)
	app.Post("/wallet/withdraw", h.Withdraw)
	app.Post("/wallet/transfer", h.Transfer)
	app.Get("/wallet/:accountNumber", h.Get)
	app.Get("/wallet/:accountNumber/transactions", h.Transactions)
	return app
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHandlerWalletLifecycle(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers("2000000001", "2000000002"))
	alice := f.user(t, "u1", "alice@example.com")
	bob := f.user(t, "u2", "bob@example.com")
	dest := f.wallet(t, bob)
	app := newTestApp(t, f, &alice)

	code, env := call(t, app, http.MethodPost, "/wallet", "")
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, "User wallet created successfully", env.Message)
	var created Wallet
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "2000000002", created.AccountNumber)

	code, env = call(t, app, http.MethodPost, "/wallet/fund", `{"accountNumber":"2000000002","amount":"500.25"}`)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "Wallet successfully funded", env.Message)

	code, env = call(t, app, http.MethodPost, "/wallet/transfer",
		`{"accountNumber":"2000000002","destinationAccountNumber":"`+dest+`","amount":100}`)
	require.Equal(t, http.StatusOK, code, env.Message)
	var receipt Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.NotEmpty(t, receipt.Reference)

	code, env = call(t, app, http.MethodPost, "/wallet/withdraw", `{"accountNumber":"2000000002","amount":1000}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Insufficient funds", env.Message)

	code, env = call(t, app, http.MethodGet, "/wallet/2000000002", "")
	require.Equal(t, http.StatusOK, code)
	var details Details
	require.NoError(t, json.Unmarshal(env.Data, &details))
	assert.Equal(t, int64(40_025), details.Balance.AvailableBalance)

	code, env = call(t, app, http.MethodGet, "/wallet", "")
	require.Equal(t, http.StatusOK, code)
	var list []Details
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "2000000002", list[0].AccountNumber)

	code, env = call(t, app, http.MethodGet, "/wallet/2000000002/transactions", "")
	require.Equal(t, http.StatusOK, code)
	var hist History
	require.NoError(t, json.Unmarshal(env.Data, &hist))
	assert.Len(t, hist.Entries, 2)
}

func TestHandlerRejectsBadAmounts(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers("2000000001"))
	alice := f.user(t, "u1", "alice@example.com")
	acct := f.wallet(t, alice)
	app := newTestApp(t, f, &alice)

	cases := map[string]struct {
		body    string
		message string
	}{
		"zero":          {`{"accountNumber":"` + acct + `","amount":0}`, "Amount must be greater than zero"},
		"negative":      {`{"accountNumber":"` + acct + `","amount":"-1"}`, "Amount must be greater than zero"},
		"too precise":   {`{"accountNumber":"` + acct + `","amount":"1.001"}`, "Amount must have at most 2 decimal places"},
		"over ceiling":  {`{"accountNumber":"` + acct + `","amount":"92233720368547758.07"}`, "Amount must not exceed 1000000000000.00"},
		"bad account":   {`{"accountNumber":"12","amount":1}`, "Validation failed"},
		"malformed":     {`{"accountNumber":`, "Invalid request body"},
		"missing field": {`{"amount":1}`, "Validation failed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			code, env := call(t, app, http.MethodPost, "/wallet/fund", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, env.Status)
			assert.Equal(t, tc.message, env.Message)
		})
	}
	assert.Zero(t, f.balance(t, acct))
}

func TestHandlerRequiresParty(t *testing.T) {
	f := newFixture(t, backends(t)["memory"](t), numbers("2000000001"))
	app := newTestApp(t, f, nil)

	code, env := call(t, app, http.MethodPost, "/wallet", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Unauthorized", env.Message)
}

func TestParseDateFilter(t *testing.T) {
	now := time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC)

	f, err := parseDateFilter("", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC), f.StartDate)

	f, err = parseDateFilter("2024-04-01", "2024-04-02", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), f.StartDate)
	assert.Equal(t, time.Date(2024, 4, 2, 23, 59, 59, 999_999_999, time.UTC), f.EndDate)

	f, err = parseDateFilter("2024-04-01T10:00:00Z", "2024-04-01T11:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, f.EndDate.Sub(f.StartDate))

	_, err = parseDateFilter("yesterday", "", now)
	assert.Error(t, err)
	_, err = parseDateFilter("2024-04-03", "2024-04-02", now)
	assert.Error(t, err)
}
