// Package config loads runtime configuration for the signal engine from
// the environment, following the same .env + os.Getenv pattern the rest of
// the codebase uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment gates order submission, reconciliation, fee reconciliation,
// and selects the operational-store collection suffix.
type Environment string

const (
	EnvProd Environment = "PROD"
	EnvDev  Environment = "DEV"
	EnvTest Environment = "TEST"
)

// Config holds every recognised runtime option from spec.md §6.
type Config struct {
	Environment Environment

	EnableExecution    bool
	AlpacaPaperTrading bool

	RiskPerTrade        float64
	MaxCryptoPositions  int
	MaxEquityPositions  int
	MaxDailyDrawdownPct float64
	MinAssetBPUSD       float64
	MaxPositionSize     float64

	CryptoSymbols []string
	EquitySymbols []string

	TTLDaysProd int
	TTLDaysDev  int

	RateLimitDelay         time.Duration
	TheoreticalSlippagePct float64
	MinOrderNotionalUSD    float64

	EnableMarketDataCache bool
	MarketDataBaseURL     string

	ArchivalS3Bucket string
	AWSRegion        string

	EnableGCPLogging bool
	TestMode         bool
	MockDiscord      bool

	SentryDSN string

	LogLevel    string
	LogPretty   bool
	Port        int
	DataDir     string
	MongoURI    string
	MongoDBName string
	DuckDBPath  string

	MinReconcileAgeMinutes int

	// CooldownSeconds maps a pattern/strategy name to the minimum duration
	// between the most recent exit for a symbol and a new signal for the
	// same symbol. Resolves spec.md §9's open question: cooldowns are
	// config-dependent and must be documented, not guessed, per strategy.
	CooldownSeconds        map[string]int
	DefaultCooldownSeconds int
}

// Load reads configuration from environment variables, loading a .env file
// first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: Environment(getEnv("ENVIRONMENT", string(EnvDev))),

		EnableExecution:    getEnvBool("ENABLE_EXECUTION", false),
		AlpacaPaperTrading: getEnvBool("ALPACA_PAPER_TRADING", true),

		RiskPerTrade:        getEnvFloat("RISK_PER_TRADE", 100.0),
		MaxCryptoPositions:  getEnvInt("MAX_CRYPTO_POSITIONS", 5),
		MaxEquityPositions:  getEnvInt("MAX_EQUITY_POSITIONS", 10),
		MaxDailyDrawdownPct: getEnvFloat("MAX_DAILY_DRAWDOWN_PCT", 0.05),
		MinAssetBPUSD:       getEnvFloat("MIN_ASSET_BP_USD", 50.0),
		MaxPositionSize:     getEnvFloat("MAX_POSITION_SIZE", 1_000_000.0),

		CryptoSymbols: getEnvList("CRYPTO_SYMBOLS", []string{"BTC/USD", "ETH/USD"}),
		EquitySymbols: getEnvList("EQUITY_SYMBOLS", []string{"AAPL", "MSFT"}),

		TTLDaysProd: getEnvInt("TTL_DAYS_PROD", 90),
		TTLDaysDev:  getEnvInt("TTL_DAYS_DEV", 7),

		RateLimitDelay:         getEnvDuration("RATE_LIMIT_DELAY", 500*time.Millisecond),
		TheoreticalSlippagePct: getEnvFloat("THEORETICAL_SLIPPAGE_PCT", 0.0005),
		MinOrderNotionalUSD:    getEnvFloat("MIN_ORDER_NOTIONAL_USD", 10.0),

		EnableMarketDataCache: getEnvBool("ENABLE_MARKET_DATA_CACHE", false),
		MarketDataBaseURL:     getEnv("MARKET_DATA_BASE_URL", "https://data.alpaca.markets"),

		ArchivalS3Bucket: getEnv("ARCHIVAL_S3_BUCKET", ""),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),

		EnableGCPLogging: getEnvBool("ENABLE_GCP_LOGGING", false),
		TestMode:         getEnvBool("TEST_MODE", false),
		MockDiscord:      getEnvBool("MOCK_DISCORD", true),

		SentryDSN: getEnv("SENTRY_DSN", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),
		Port:      getEnvInt("PORT", 8080),

		DataDir:     getEnv("DATA_DIR", "./data"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "cryptosignals"),
		DuckDBPath:  getEnv("DUCKDB_PATH", "./data/analytical.duckdb"),

		MinReconcileAgeMinutes: getEnvInt("MIN_RECONCILE_AGE_MINUTES", 5),

		DefaultCooldownSeconds: getEnvInt("DEFAULT_COOLDOWN_SECONDS", int((24 * time.Hour).Seconds())),
		CooldownSeconds:        map[string]int{},
	}

	for _, pattern := range []string{
		"BULL_FLAG", "THREE_WHITE_SOLDIERS", "BULLISH_MARUBOZU", "MORNING_STAR",
		"PIERCING_LINE", "BULLISH_ENGULFING", "BULLISH_HAMMER", "INVERTED_HAMMER",
		"DOUBLE_BOTTOM",
	} {
		key := "COOLDOWN_SECONDS_" + pattern
		cfg.CooldownSeconds[pattern] = getEnvInt(key, cfg.DefaultCooldownSeconds)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants across the loaded options.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvProd, EnvDev, EnvTest:
	default:
		return fmt.Errorf("invalid ENVIRONMENT %q: must be PROD, DEV, or TEST", c.Environment)
	}

	if c.RiskPerTrade <= 0 {
		return fmt.Errorf("RISK_PER_TRADE must be positive")
	}

	if c.MaxPositionSize <= 0 {
		return fmt.Errorf("MAX_POSITION_SIZE must be positive")
	}

	return nil
}

// TTLDays returns the delete_at horizon in days for the active environment.
func (c *Config) TTLDays() int {
	if c.Environment == EnvProd {
		return c.TTLDaysProd
	}
	return c.TTLDaysDev
}

// CollectionPrefix returns the environment-aware operational-store
// collection prefix ("live_" in PROD, "test_" elsewhere).
func (c *Config) CollectionPrefix() string {
	if c.Environment == EnvProd {
		return "live_"
	}
	return "test_"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
