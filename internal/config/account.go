package config

import (
	"sync"
)

// Account is the runtime identity of one registered customer-service
// account, built from the merged global/per-account configuration. An
// Account is immutable once built; a config reload replaces the whole set
// through the Registry.
type Account struct {
	ID             string
	CorpID         string
	CorpSecret     string
	OpenKfID       string
	Token          string
	EncodingAESKey string
	WelcomeMessage string
	CanSendActive  bool

	// Configured reports whether the account carries everything the
	// callback path needs (token + AES key + corp identity).
	Configured bool
}

// BuildAccounts merges corp-wide defaults into each account entry.
func BuildAccounts(cfg *Config) []*Account {
	accounts := make([]*Account, 0, len(cfg.Accounts))
	for _, ac := range cfg.Accounts {
		a := &Account{
			ID:             ac.ID,
			CorpID:         ac.CorpID,
			CorpSecret:     ac.CorpSecret,
			OpenKfID:       ac.OpenKfID,
			Token:          ac.Token,
			EncodingAESKey: ac.EncodingAESKey,
			WelcomeMessage: ac.WelcomeMessage,
			CanSendActive:  ac.CanSendActive,
		}
		if a.CorpID == "" {
			a.CorpID = cfg.CorpID
		}
		if a.CorpSecret == "" {
			a.CorpSecret = cfg.CorpSecret
		}
		if a.ID == "" {
			a.ID = a.CorpID
		}
		a.Configured = a.CorpID != "" && a.Token != "" && a.EncodingAESKey != ""
		accounts = append(accounts, a)
	}
	return accounts
}

// Registry holds the current account set. Readers get a stable snapshot;
// a reload swaps the slice wholesale rather than mutating accounts in
// place.
type Registry struct {
	mu       sync.RWMutex
	accounts []*Account
}

// NewRegistry creates a registry with an initial account set.
func NewRegistry(accounts []*Account) *Registry {
	return &Registry{accounts: accounts}
}

// All returns the current snapshot. The returned slice must not be
// modified.
func (r *Registry) All() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accounts
}

// ByID returns the account with the given id, or nil.
func (r *Registry) ByID(id string) *Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Replace swaps in a new account set.
func (r *Registry) Replace(accounts []*Account) {
	r.mu.Lock()
	r.accounts = accounts
	r.mu.Unlock()
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}
