package wallet

import (
	"time"

	"github.com/congo-pay/walletledger/internal/ledger"
)

// Wallet identifies a ledger account owned by a user. The balance is not
// stored here; it is always derived from the ledger.
type Wallet struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	AccountNumber string     `json:"accountNumber"`
	IsActive      bool       `json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// Details is a wallet merged with its current balance.
type Details struct {
	Wallet
	Balance ledger.AccountBalance `json:"balance"`
}

// Receipt describes the posting written by a successful mutation.
type Receipt struct {
	Reference string         `json:"reference"`
	Entries   []ledger.Entry `json:"entries"`
}

// History lists ledger activity for a wallet.
type History struct {
	AccountNumber string         `json:"accountNumber"`
	Entries       []ledger.Entry `json:"entries"`
}
