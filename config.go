package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load loads Discotron from a TOML configuration.
func Load(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	expandcfg(&cfg, os.Getenv)
	if cfg.Spam.Within <= 0 {
		cfg.Spam.Within = 30
	}
	if cfg.Spam.Num <= 0 {
		cfg.Spam.Num = 10
	}
	if cfg.Rate.Every <= 0 {
		cfg.Rate.Every = 1
	}
	if cfg.Rate.Num <= 0 {
		cfg.Rate.Num = 2
	}
	return &cfg, nil
}

// loadToken reads the bot token from the secret file. A missing or empty
// token is fatal; the bot never connects without credentials.
func loadToken(file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("no token file configured")
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("couldn't read token: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", fmt.Errorf("token file %s is empty", file)
	}
	return tok, nil
}

// Config is the marshaled structure of Discotron's configuration.
type Config struct {
	// SecretFile is the path to a file containing the Discord bot token.
	SecretFile string `toml:"secret"`
	// HTTP is the table of HTTP server settings.
	HTTP HTTPCfg `toml:"http"`
	// DB is the table of database connection strings.
	DB DBCfg `toml:"db"`
	// Spam is the spam detection window: a user registering num actions
	// within "within" seconds is restricted.
	Spam Rate `toml:"spam"`
	// Rate is the outbound message rate limit.
	Rate Rate `toml:"rate"`
	// Maintenance starts the bot in maintenance mode, ignoring everyone but
	// owners.
	Maintenance bool `toml:"maintenance"`
	// Watch is the word list for the builtin moderation plugin.
	Watch []string `toml:"watch"`
}

// HTTPCfg is the configuration for the HTTP API server.
type HTTPCfg struct {
	// Listen is the address to serve metrics and status on.
	Listen string `toml:"listen"`
}

// DBCfg is the configuration of databases.
type DBCfg struct {
	// Store is the DSN for guild configuration storage.
	Store string `toml:"store"`
	// Owners is the DSN for the owner set. It may equal Store to share one
	// database.
	Owners string `toml:"owners"`
}

// Rate is a count-per-interval configuration. Within is in seconds.
type Rate struct {
	Within float64 `toml:"within"`
	Every  float64 `toml:"every"`
	Num    int     `toml:"num"`
}

func fseconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func expandcfg(cfg *Config, expand func(s string) string) {
	fields := []*string{
		&cfg.SecretFile,
		&cfg.HTTP.Listen,
		&cfg.DB.Store,
		&cfg.DB.Owners,
	}
	for _, f := range fields {
		*f = os.Expand(*f, expand)
	}
}
