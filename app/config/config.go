// Package config loads portal configuration from the environment. Load is
// called once at startup and the resulting value is passed explicitly into
// every service; nothing in the repository reads configuration globally.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"

	"example/aegis-portal/app/models"
)

type Config struct {
	ListenAddr string
	DB         PostgresConfig
	Stripe     StripeConfig
	Tokens     TokenConfig
	Session    SessionConfig
	AppURL     string
	SuccessURL string
	CancelURL  string
}

type PostgresConfig struct {
	Username string
	Password string
	Host     string
	Port     string
	Database string
}

// DSN builds the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	ProPriceID      string
	LifetimePriceID string
}

type TokenConfig struct {
	// FreeTokens is the free-tier starting balance granted at signup.
	FreeTokens int
	// Costs holds the static per-action price of each metered action.
	Costs map[models.TokenAction]int
}

// Cost returns the token price of an action, 0 for unmetered actions.
func (c TokenConfig) Cost(action models.TokenAction) int {
	return c.Costs[action]
}

type SessionConfig struct {
	JWTSecret string
	Issuer    string
	TTL       time.Duration
}

// Load reads all configuration from the environment, applying defaults for
// anything unset. A set-but-unparseable JWT_TTL is an error rather than a
// silent fallback: a mistyped session lifetime should stop the boot.
func Load() (*Config, error) {
	appURL := strings.TrimRight(envString("APP_URL", "https://aegissolutions.co.uk"), "/")

	sessionTTL := 24 * time.Hour
	if v := os.Getenv("JWT_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_TTL %q: %w", v, err)
		}
		sessionTTL = d
	}

	cfg := &Config{
		ListenAddr: envString("LISTEN_ADDR", "0.0.0.0:8080"),
		DB: PostgresConfig{
			Username: envString("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PWD"),
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envString("POSTGRES_PORT", "5432"),
			Database: envString("POSTGRES_DB", "aegis"),
		},
		Stripe: StripeConfig{
			SecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
			ProPriceID:      os.Getenv("STRIPE_PRO_PRICE_ID"),
			LifetimePriceID: os.Getenv("STRIPE_LIFETIME_PRICE_ID"),
		},
		Tokens: TokenConfig{
			FreeTokens: envInt("FREE_TOKENS", 5000),
			Costs: map[models.TokenAction]int{
				models.ActionVibeCheck:   envInt("TOKEN_COST_VIBE_CHECK", 100),
				models.ActionContextSync: envInt("TOKEN_COST_CONTEXT_SYNC", 10),
				models.ActionAgentRelay:  envInt("TOKEN_COST_AGENT_RELAY", 5),
			},
		},
		Session: SessionConfig{
			JWTSecret: envString("JWT_SECRET", "change-me-in-production"),
			Issuer:    envString("JWT_ISSUER", "aegis-portal"),
			TTL:       sessionTTL,
		},
		AppURL:     appURL,
		SuccessURL: envString("SUCCESS_URL", appURL+"/dashboard?success=true"),
		CancelURL:  envString("CANCEL_URL", appURL+"/billing?cancelled=true"),
	}

	return cfg, nil
}

// BillingURL is the upgrade hint included in denied responses.
func (c *Config) BillingURL() string {
	return c.AppURL + "/billing"
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
