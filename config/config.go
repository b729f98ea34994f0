package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Subscription: comma-separated "exchangeType:token" pairs.
	SubscribeTokens string

	// Candle interval in seconds for the live aggregator.
	CandleIntervalSec int

	// Bootstrap window length (candles) for the indicator engine.
	BootstrapCandles int

	// RSI banding: "3" or "5" bands.
	RSIBands int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		AngelAPIKey:     mustEnv("ANGEL_API_KEY"),
		AngelClientCode: mustEnv("ANGEL_CLIENT_CODE"),
		AngelPassword:   mustEnv("ANGEL_PASSWORD"),
		AngelTOTPSecret: mustEnv("ANGEL_TOTP_SECRET"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/market_data.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		// Default: NIFTY 50 on NSE_CM
		SubscribeTokens: getEnv("SUBSCRIBE_TOKENS", "1:99926000"),

		CandleIntervalSec: getEnvInt("CANDLE_INTERVAL_SEC", 60),
		BootstrapCandles:  getEnvInt("BOOTSTRAP_CANDLES", 50),
		RSIBands:          getEnvInt("RSI_BANDS", 3),
	}
}

// Subscription is one instrument to subscribe: exchange type plus token.
type Subscription struct {
	ExchangeType int
	Token        string
}

// ParseSubscriptions parses SubscribeTokens into subscription pairs.
// Invalid entries are skipped with a warning.
func (c *Config) ParseSubscriptions() []Subscription {
	parts := strings.Split(c.SubscribeTokens, ",")
	subs := make([]Subscription, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ex, tok, ok := strings.Cut(p, ":")
		if !ok {
			log.Printf("[config] skipping invalid subscription %q (want exchange:token)", p)
			continue
		}
		n, err := strconv.Atoi(ex)
		if err != nil || n <= 0 || tok == "" {
			log.Printf("[config] skipping invalid subscription %q", p)
			continue
		}
		subs = append(subs, Subscription{ExchangeType: n, Token: tok})
	}
	return subs
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
