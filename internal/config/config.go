package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/gateway"
	"github.com/congo-pay/cardrail/internal/money"
)

const (
	defaultAppName          = "CardRail"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultGatewayTimeout   = 30 * time.Second
	defaultFeeCacheTTL      = 5 * time.Minute
	defaultKafkaTopic       = "cardrail.notifications"
	defaultCardRateLimit    = 30
	defaultMaxAttempts      = 3
	defaultDBMaxConns       = 10
	defaultTransferFallback = "XAF:USD=2,USD:XAF=2"
	defaultFallbackRates    = "USD:XAF=620,XAF:USD=0.0016129"
	developmentJWTSecret    = "development-only-secret"

	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"

	envProduction  = "production"
	envDevelopment = "development"
	envTest        = "test"
)

// RailAccount holds the credentials and debit accounts of one card rail.
type RailAccount struct {
	BaseURL          string
	APIKey           string
	DebitAccountID   string
	SandboxAccountID string
}

// Payout configures the mobile money payout aggregator.
type Payout struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	DefaultFeePercent decimal.Decimal
}

// Withdrawal configures the pending queue and its scheduler.
type Withdrawal struct {
	MaxAttempts         int
	DrainInterval       time.Duration
	LiquidityInterval   time.Duration
	ArchiveInterval     time.Duration
	Retention           time.Duration
	LiquidityThreshold  decimal.Decimal
	LiquidityCurrencies []string
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	DBMaxConns     int
	DBMinConns     int
	RedisURL       string
	KafkaBrokers   []string
	KafkaTopic     string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	JWTSecret      string

	CardRail       gateway.Rail
	Sudo           RailAccount
	Maplerad       RailAccount
	GatewayTimeout time.Duration

	Payout     Payout
	Withdrawal Withdrawal

	TransferFallbackFees money.PairTable
	FallbackRates        money.PairTable
	FeeCacheTTL          time.Duration
	CardRateLimit        int
}

// Load reads a .env file when present, then configuration values from the
// environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:      getEnv("APP_NAME", defaultAppName),
		AppEnv:       strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:         getEnv("PORT", defaultPort),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:    strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		Sudo: RailAccount{
			BaseURL:          os.Getenv("SUDO_BASE_URL"),
			APIKey:           os.Getenv("SUDO_API_KEY"),
			DebitAccountID:   os.Getenv("SUDO_DEBIT_ACCOUNT_ID"),
			SandboxAccountID: os.Getenv("SUDO_SANDBOX_DEBIT_ACCOUNT_ID"),
		},
		Maplerad: RailAccount{
			BaseURL:          os.Getenv("MAPLERAD_BASE_URL"),
			APIKey:           os.Getenv("MAPLERAD_SECRET_KEY"),
			DebitAccountID:   os.Getenv("MAPLERAD_DEBIT_ACCOUNT_ID"),
			SandboxAccountID: os.Getenv("MAPLERAD_SANDBOX_DEBIT_ACCOUNT_ID"),
		},
		Payout: Payout{
			BaseURL: os.Getenv("PAYOUT_BASE_URL"),
			APIKey:  os.Getenv("PAYOUT_API_KEY"),
		},
		Withdrawal: Withdrawal{
			LiquidityCurrencies: upper(splitList(getEnv("LIQUIDITY_CURRENCIES", "XAF"))),
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"GATEWAY_TIMEOUT", defaultGatewayTimeout, &cfg.GatewayTimeout},
		{"PAYOUT_TIMEOUT", defaultGatewayTimeout, &cfg.Payout.Timeout},
		{"WITHDRAWAL_DRAIN_INTERVAL", 5 * time.Minute, &cfg.Withdrawal.DrainInterval},
		{"LIQUIDITY_CHECK_INTERVAL", time.Hour, &cfg.Withdrawal.LiquidityInterval},
		{"ARCHIVE_INTERVAL", 24 * time.Hour, &cfg.Withdrawal.ArchiveInterval},
		{"WITHDRAWAL_RETENTION", 720 * time.Hour, &cfg.Withdrawal.Retention},
		{"FEE_CACHE_TTL", defaultFeeCacheTTL, &cfg.FeeCacheTTL},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.key, d.fallback); err != nil {
			return Config{}, err
		}
	}

	if cfg.Withdrawal.MaxAttempts, err = intEnv("WITHDRAWAL_MAX_ATTEMPTS", defaultMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", defaultDBMaxConns); err != nil {
		return Config{}, err
	}
	if cfg.DBMinConns, err = intEnv("DB_MIN_CONNS", 1); err != nil {
		return Config{}, err
	}
	if cfg.CardRateLimit, err = intEnv("CARD_RATE_LIMIT_PER_MINUTE", defaultCardRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.Withdrawal.LiquidityThreshold, err = decimalEnv("LIQUIDITY_ALERT_THRESHOLD", "100000"); err != nil {
		return Config{}, err
	}
	if cfg.Payout.DefaultFeePercent, err = decimalEnv("PAYOUT_DEFAULT_FEE_PERCENT", "2"); err != nil {
		return Config{}, err
	}

	if cfg.TransferFallbackFees, err = money.ParsePairTable(getEnv("TRANSFER_FALLBACK_FEES", defaultTransferFallback)); err != nil {
		return Config{}, fmt.Errorf("invalid TRANSFER_FALLBACK_FEES: %w", err)
	}
	if cfg.FallbackRates, err = money.ParsePairTable(getEnv("FALLBACK_RATES", defaultFallbackRates)); err != nil {
		return Config{}, fmt.Errorf("invalid FALLBACK_RATES: %w", err)
	}

	if cfg.CardRail, err = gateway.ParseRail(getEnv("CARD_RAIL", string(gateway.RailSudo))); err != nil {
		return Config{}, fmt.Errorf("invalid CARD_RAIL: %w", err)
	}

	if !cfg.IsLocal() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = developmentJWTSecret
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsProduction reports whether the process runs against live rails.
func (c Config) IsProduction() bool { return c.AppEnv == envProduction }

// IsLocal reports whether backing services may be replaced by in-memory ones.
func (c Config) IsLocal() bool { return c.AppEnv == envDevelopment || c.AppEnv == envTest }

// GatewayEnvironment selects which debit accounts the rails use.
func (c Config) GatewayEnvironment() gateway.Environment {
	if c.IsProduction() {
		return gateway.EnvironmentProduction
	}
	return gateway.EnvironmentSandbox
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return durationEnv(durationKey, fallback)
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func decimalEnv(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func upper(in []string) []string {
	for i, s := range in {
		in[i] = strings.ToUpper(s)
	}
	return in
}
