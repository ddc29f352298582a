package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds every setting read from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	LogFormat        string
	HTTPListenAddr   string
	PublicBasePath   string
	HTTPRateLimit    float64
	HTTPRateBurst    int
	MetricsNamespace string

	StoreDriver    string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTLS       bool
	RedisKeyPrefix string
	RedisTTL       time.Duration

	WhatsAppEnabled     bool
	WhatsAppStorePath   string
	WhatsAppLogLevel    string
	WhatsAppCountryCode string
	AdminNotifyPhone    string
	AdminChatPhones     []string

	MaturationWindow       time.Duration
	WelcomeBalance         decimal.Decimal
	AllowEarlyClaim        bool
	NotificationTTL        time.Duration
	HeartbeatInterval      time.Duration
	ReminderInterval       time.Duration
	ScratchPrizeMultiplier decimal.Decimal
	SeedAdminPhone         string
}

// Load reads configuration from environment variables. Call godotenv.Load
// beforehand to pick up a local .env file.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   getEnv("PUBLIC_BASE_PATH", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "pak_finance"),

		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DatabaseSchema: getEnv("DATABASE_SCHEMA", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "data/pak_finance.db"),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "pak_finance:"),

		WhatsAppStorePath:   getEnv("WHATSAPP_STORE_PATH", "data/whatsapp.db"),
		WhatsAppLogLevel:    getEnv("WHATSAPP_LOG_LEVEL", "WARN"),
		WhatsAppCountryCode: getEnv("WHATSAPP_COUNTRY_CODE", "92"),
		AdminNotifyPhone:    getEnv("ADMIN_NOTIFY_PHONE", ""),
		AdminChatPhones:     splitList(getEnv("ADMIN_CHAT_PHONES", "")),

		SeedAdminPhone: getEnv("SEED_ADMIN_PHONE", ""),
	}

	var errs []error
	var err error

	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.RedisTLS, err = getBool("REDIS_TLS", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.RedisTTL, err = getDuration("REDIS_TTL", 10*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.WhatsAppEnabled, err = getBool("WHATSAPP_ENABLED", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaturationWindow, err = getDuration("LEDGER_MATURATION_WINDOW", 24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.WelcomeBalance, err = getDecimal("LEDGER_WELCOME_BALANCE", "2500"); err != nil {
		errs = append(errs, err)
	}
	if cfg.AllowEarlyClaim, err = getBool("LEDGER_ALLOW_EARLY_CLAIM", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.NotificationTTL, err = getDuration("NOTIFICATION_TTL", 4*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.HeartbeatInterval, err = getDuration("LEDGER_HEARTBEAT_INTERVAL", 5*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReminderInterval, err = getDuration("ADMIN_REMINDER_INTERVAL", time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.HTTPRateLimit, err = getFloat("HTTP_RATE_LIMIT", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.HTTPRateBurst, err = getInt("HTTP_RATE_BURST", 20); err != nil {
		errs = append(errs, err)
	}
	if cfg.ScratchPrizeMultiplier, err = getDecimal("GAMES_SCRATCH_PRIZE_MULTIPLIER", "3"); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.WelcomeBalance.IsNegative() {
		return errors.New("LEDGER_WELCOME_BALANCE must not be negative")
	}
	if c.MaturationWindow <= 0 {
		return errors.New("LEDGER_MATURATION_WINDOW must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getDecimal(key, defaultValue string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
