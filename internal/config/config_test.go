package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validAESKey = "jWmYm7qr5nMoAUwZRjGtBxmz3KA1tkAj3ykkR6q2B2C"

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.CorpID = "ww123"
	cfg.CorpSecret = "secret"
	cfg.Accounts = []AccountConfig{{
		ID:             "acct1",
		OpenKfID:       "kf1",
		Token:          "tok",
		EncodingAESKey: validAESKey,
	}}
	return cfg
}

func TestBuildAccounts(t *testing.T) {
	t.Run("inherits corp credentials from the top level", func(t *testing.T) {
		accounts := BuildAccounts(validConfig())
		require.Len(t, accounts, 1)

		a := accounts[0]
		assert.Equal(t, "ww123", a.CorpID)
		assert.Equal(t, "secret", a.CorpSecret)
		assert.Equal(t, "acct1", a.ID)
		assert.True(t, a.Configured)
	})

	t.Run("per account credentials win over the top level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Accounts[0].CorpID = "ww-own"
		cfg.Accounts[0].CorpSecret = "own-secret"

		a := BuildAccounts(cfg)[0]
		assert.Equal(t, "ww-own", a.CorpID)
		assert.Equal(t, "own-secret", a.CorpSecret)
	})

	t.Run("missing id falls back to corp id", func(t *testing.T) {
		cfg := validConfig()
		cfg.Accounts[0].ID = ""

		a := BuildAccounts(cfg)[0]
		assert.Equal(t, "ww123", a.ID)
	})

	t.Run("incomplete account is marked unconfigured", func(t *testing.T) {
		cfg := validConfig()
		cfg.Accounts[0].Token = ""

		a := BuildAccounts(cfg)[0]
		assert.False(t, a.Configured)
	})
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, v.Validate(validConfig()))
	})

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no accounts", func(c *Config) { c.Accounts = nil }},
		{"missing corp id", func(c *Config) { c.CorpID = "" }},
		{"missing corp secret", func(c *Config) { c.CorpSecret = "" }},
		{"missing token", func(c *Config) { c.Accounts[0].Token = "" }},
		{"aes key wrong length", func(c *Config) { c.Accounts[0].EncodingAESKey = "short" }},
		{"aes key bad characters", func(c *Config) {
			c.Accounts[0].EncodingAESKey = validAESKey[:42] + "!"
		}},
		{"duplicate account ids", func(c *Config) {
			c.Accounts = append(c.Accounts, c.Accounts[0])
		}},
		{"port out of range", func(c *Config) { c.Webhook.Port = 70000 }},
		{"path without leading slash", func(c *Config) { c.Webhook.Path = "callback" }},
		{"page limit too large", func(c *Config) { c.Sync.PageLimit = 5000 }},
		{"page limit zero", func(c *Config) { c.Sync.PageLimit = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, v.Validate(cfg))
		})
	}
}

func TestLoader(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := NewLoader(filepath.Join(t.TempDir(), "absent.json")).Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Webhook.Port)
		assert.Equal(t, "/wecom/kf/callback", cfg.Webhook.Path)
		assert.Equal(t, 1000, cfg.Sync.PageLimit)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Logging.File)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "wecom-kf.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"corp_id": "ww123",
			"corp_secret": "secret",
			"data_dir": "/var/lib/wecom-kf",
			"webhook": {"port": 9090, "path": "/hooks/kf"},
			"sync": {"page_limit": 200},
			"accounts": [{
				"id": "acct1",
				"open_kf_id": "kf1",
				"token": "tok",
				"encoding_aes_key": "`+validAESKey+`",
				"welcome_message": "hi there",
				"can_send_active": true
			}]
		}`), 0644))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)

		assert.Equal(t, "ww123", cfg.CorpID)
		assert.Equal(t, 9090, cfg.Webhook.Port)
		assert.Equal(t, "/hooks/kf", cfg.Webhook.Path)
		assert.Equal(t, 200, cfg.Sync.PageLimit)
		assert.Equal(t, 10, cfg.Sync.DedupTTLMinutes, "untouched values keep defaults")
		assert.Equal(t, "/var/lib/wecom-kf", cfg.DataDir)
		assert.Equal(t, filepath.Join("/var/lib/wecom-kf", "wecom-kf.log"), cfg.Logging.File)

		require.Len(t, cfg.Accounts, 1)
		assert.Equal(t, "hi there", cfg.Accounts[0].WelcomeMessage)
		assert.True(t, cfg.Accounts[0].CanSendActive)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "wecom-kf.json")
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})

	t.Run("path resolves to the explicit file", func(t *testing.T) {
		p, err := NewLoader("/etc/wecom-kf.json").Path()
		require.NoError(t, err)
		assert.Equal(t, "/etc/wecom-kf.json", p)
	})
}

func TestRegistry(t *testing.T) {
	t.Run("lookup by id", func(t *testing.T) {
		r := NewRegistry(BuildAccounts(validConfig()))
		require.Equal(t, 1, r.Len())
		assert.NotNil(t, r.ByID("acct1"))
		assert.Nil(t, r.ByID("missing"))
	})

	t.Run("replace swaps the whole set", func(t *testing.T) {
		r := NewRegistry(BuildAccounts(validConfig()))

		cfg := validConfig()
		cfg.Accounts[0].ID = "acct2"
		r.Replace(BuildAccounts(cfg))

		assert.Nil(t, r.ByID("acct1"))
		assert.NotNil(t, r.ByID("acct2"))
	})
}
