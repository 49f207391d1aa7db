package identity

import (
	"context"
	"time"
)

// User represents a registered wallet owner.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash []byte     `json:"-"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	PhoneNumber  string     `json:"phoneNumber"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

// Party is the minimal identity the auth middleware attaches to a request.
// Services trust its ID as the acting user.
type Party struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Party returns the authenticated view of u.
func (u User) Party() Party {
	return Party{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

// RegisterInput captures the fields needed to create a user.
type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
}

type partyKey struct{}

// WithParty returns a copy of ctx carrying p.
func WithParty(ctx context.Context, p Party) context.Context {
	return context.WithValue(ctx, partyKey{}, p)
}

// PartyFrom extracts the authenticated party from ctx.
func PartyFrom(ctx context.Context) (Party, bool) {
	p, ok := ctx.Value(partyKey{}).(Party)
	return p, ok && p.ID != ""
}
