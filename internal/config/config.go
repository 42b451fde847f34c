package config

// Config is the top-level daemon configuration. Corp-level credentials may
// be set once at the top level and inherited by accounts that leave them
// empty.
type Config struct {
	// Corp-wide defaults merged into each account.
	CorpID     string `json:"corp_id" mapstructure:"corp_id"`
	CorpSecret string `json:"corp_secret" mapstructure:"corp_secret"`

	Accounts []AccountConfig `json:"accounts" mapstructure:"accounts"`

	Webhook WebhookConfig `json:"webhook" mapstructure:"webhook"`
	Sync    SyncConfig    `json:"sync" mapstructure:"sync"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory for the cursor file, pid file and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AccountConfig is one registered customer-service account as written in
// the config file.
type AccountConfig struct {
	ID             string `json:"id" mapstructure:"id"`
	CorpID         string `json:"corp_id" mapstructure:"corp_id"`
	CorpSecret     string `json:"corp_secret" mapstructure:"corp_secret"`
	OpenKfID       string `json:"open_kf_id" mapstructure:"open_kf_id"`
	Token          string `json:"token" mapstructure:"token"`
	EncodingAESKey string `json:"encoding_aes_key" mapstructure:"encoding_aes_key"`
	WelcomeMessage string `json:"welcome_message" mapstructure:"welcome_message"`
	CanSendActive  bool   `json:"can_send_active" mapstructure:"can_send_active"`
}

// WebhookConfig holds the inbound HTTP surface configuration.
type WebhookConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	Path               string `json:"path" mapstructure:"path"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	MaxBodyBytes       int64  `json:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// SyncConfig tunes the drain loop and its caches.
type SyncConfig struct {
	PageLimit          int `json:"page_limit" mapstructure:"page_limit"`
	DedupTTLMinutes    int `json:"dedup_ttl_minutes" mapstructure:"dedup_ttl_minutes"`
	CursorFlushSeconds int `json:"cursor_flush_seconds" mapstructure:"cursor_flush_seconds"`
	TokenMarginMinutes int `json:"token_margin_minutes" mapstructure:"token_margin_minutes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Webhook: WebhookConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			Path:               "/wecom/kf/callback",
			RateLimitPerMinute: 600,
			MaxBodyBytes:       1 << 20,
		},
		Sync: SyncConfig{
			PageLimit:          1000,
			DedupTTLMinutes:    10,
			CursorFlushSeconds: 1,
			TokenMarginMinutes: 5,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}
