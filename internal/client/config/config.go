package config

import "time"

// Config holds runtime settings for the sync engine on one device.
//
// Backend selects the remote store implementation: "postgres" talks to
// the shared store, "memory" runs fully local (dev and tests). Durations
// follow time.Duration semantics.
type Config struct {
	Backend      string
	RemoteDSN    string
	SessionToken string
	LocalDBPath  string
	UserID       string

	OnlineCheckInterval      time.Duration
	ResyncMinInterval        time.Duration
	RetryCap                 int
	GenerationLockStaleAfter time.Duration
	InviteTTL                time.Duration

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Backend = "memory"
	c.LocalDBPath = "couplesync.db"
	c.OnlineCheckInterval = 3 * time.Second
	c.ResyncMinInterval = 30 * time.Second
	c.RetryCap = 5
	c.GenerationLockStaleAfter = 2 * time.Minute
	c.InviteTTL = 24 * time.Hour
	c.S3Region = "us-east-1"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
