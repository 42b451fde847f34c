package config

import (
	"fmt"
	"regexp"
)

// Validator validates configuration values.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

var aesKeyPattern = regexp.MustCompile(`^[A-Za-z0-9]{43}$`)

// ValidateAccount checks that one merged account carries everything the
// callback and sync paths need.
func (v *Validator) ValidateAccount(a *Account) error {
	if a.CorpID == "" {
		return fmt.Errorf("account %q: corp_id cannot be empty", a.ID)
	}
	if a.CorpSecret == "" {
		return fmt.Errorf("account %q: corp_secret cannot be empty", a.ID)
	}
	if a.Token == "" {
		return fmt.Errorf("account %q: callback token cannot be empty", a.ID)
	}
	if !aesKeyPattern.MatchString(a.EncodingAESKey) {
		return fmt.Errorf("account %q: encoding_aes_key must be 43 base64 characters", a.ID)
	}
	return nil
}

// Validate checks the whole configuration.
func (v *Validator) Validate(cfg *Config) error {
	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}
	seen := make(map[string]bool, len(cfg.Accounts))
	for _, a := range BuildAccounts(cfg) {
		if err := v.ValidateAccount(a); err != nil {
			return err
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
	}
	if cfg.Webhook.Port <= 0 || cfg.Webhook.Port > 65535 {
		return fmt.Errorf("webhook port %d out of range", cfg.Webhook.Port)
	}
	if cfg.Webhook.Path == "" || cfg.Webhook.Path[0] != '/' {
		return fmt.Errorf("webhook path must start with /")
	}
	if cfg.Sync.PageLimit <= 0 || cfg.Sync.PageLimit > 1000 {
		return fmt.Errorf("sync page_limit must be between 1 and 1000")
	}
	return nil
}
