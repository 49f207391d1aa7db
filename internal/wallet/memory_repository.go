package wallet

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu        sync.RWMutex
	byAccount map[string]Wallet
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{byAccount: make(map[string]Wallet)}
}

func (r *memoryRepository) Create(_ context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAccount[wallet.AccountNumber]; exists {
		return ErrDuplicateAccountNumber
	}
	r.byAccount[wallet.AccountNumber] = wallet
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.byAccount {
		if w.ID == id {
			return w, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (r *memoryRepository) FindByAccountNumber(_ context.Context, accountNumber string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byAccount[accountNumber]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (r *memoryRepository) FindByUser(_ context.Context, userID string) ([]Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Wallet
	for _, w := range r.byAccount {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AccountNumber < out[j].AccountNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
