package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/identity"
)

const partyLocal = "party"

// TokenVerifier validates an access token.
type TokenVerifier interface {
	Verify(token string) (identity.Party, error)
}

// Authenticate requires a valid bearer token. The resolved party is stored
// in the request's user context and in Locals.
func Authenticate(v TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		scheme, token, found := strings.Cut(authz, " ")
		if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return fiber.NewError(http.StatusUnauthorized, "Unauthorized")
		}
		party, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "Unauthorized")
		}
		c.Locals(partyLocal, party)
		c.SetUserContext(identity.WithParty(c.UserContext(), party))
		return c.Next()
	}
}

// PartyFrom returns the party stored by Authenticate.
func PartyFrom(c *fiber.Ctx) (identity.Party, bool) {
	p, ok := c.Locals(partyLocal).(identity.Party)
	return p, ok
}
