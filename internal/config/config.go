// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
	WSAllowedOrigins     []string      // WS and CORS origins; empty = allow all
	LockRateLimit        float64       // lock attempts per second per actor
}

// DBConfig holds datastore connection settings.
type DBConfig struct {
	Driver          string        // "postgres" | "sqlite"
	DSN             string        // full DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds JWT verification settings. Tokens are issued by the
// identity provider; this service only verifies them.
type JWTConfig struct {
	AccessSecret string        // must be set
	AccessTTL    time.Duration // used for operator tokens minted by the CLI; default 15m
}

// AuctionConfig holds engine timing and policy.
type AuctionConfig struct {
	LockDuration        time.Duration // purchase window; default 60s
	TickInterval        time.Duration // price persistence cadence; default 1s
	SweepInterval       time.Duration // lock expiry sweep cadence; default 1s
	AuditInterval       time.Duration // consistency check cadence; default 1m
	RewardInterval      time.Duration // catch-up of undelivered reward grants; default 30s
	MaxWriteRetries     int           // bounded retries on version conflicts; default 5
	RequireCredit       bool          // acquiring a lock spends one credit; default true
	HonorLatePayment    bool          // complete on success after lock expiry; default true
	DispatcherWorkers   int           // post-commit fan-out workers; default 4
	DispatcherQueueSize int           // default 256
}

// PaymentConfig holds payment gateway settings.
type PaymentConfig struct {
	StripeSecretKey  string
	WebhookSecret    string
	Currency         string        // default "aud"
	WebhookTolerance time.Duration // default 5m
}

// RedisConfig holds the cross-process relay settings.
type RedisConfig struct {
	Addr     string // "" disables the relay
	Password string
	DB       int
	Channel  string // default "auction:snapshots"
}

// NotifyConfig holds the winner notification dispatcher settings.
type NotifyConfig struct {
	WebhookURL string        // "" = log only
	Timeout    time.Duration // default 5s
}

// RewardConfig holds participation rewards granted on settlement.
type RewardConfig struct {
	WinnerXP      int // default 10
	ParticipantXP int // default 1
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	JWT     JWTConfig
	Auction AuctionConfig
	Payment PaymentConfig
	Redis   RedisConfig
	Notify  NotifyConfig
	Rewards RewardConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}
	if c.DB.Driver != "postgres" && c.DB.Driver != "sqlite" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver))
	}
	if c.IsProd() && c.DB.Driver != "postgres" {
		errs = append(errs, errors.New("DB_DRIVER must be postgres in production"))
	}
	if c.IsProd() && c.Payment.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET must be set in production"))
	}

	if c.Auction.LockDuration <= 0 {
		errs = append(errs, fmt.Errorf("AUCTION_LOCK_DURATION must be positive, got %s", c.Auction.LockDuration))
	}
	// Persisted price may lag the true price by at most one tick.
	if c.Auction.TickInterval <= 0 || c.Auction.TickInterval > time.Second {
		errs = append(errs, fmt.Errorf("AUCTION_TICK_INTERVAL must be in (0, 1s], got %s", c.Auction.TickInterval))
	}
	if c.Auction.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("AUCTION_SWEEP_INTERVAL must be positive, got %s", c.Auction.SweepInterval))
	}
	if c.Auction.MaxWriteRetries < 1 {
		errs = append(errs, fmt.Errorf("AUCTION_WRITE_RETRIES must be >= 1, got %d", c.Auction.MaxWriteRetries))
	}
	if c.Auction.DispatcherWorkers < 1 {
		errs = append(errs, fmt.Errorf("DISPATCHER_WORKERS must be >= 1, got %d", c.Auction.DispatcherWorkers))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails. Call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads a fresh Config from the environment without touching the
// singleton. Tests use it together with t.Setenv.
func Load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	lockRPS, err := getFloat("LOCK_RATE_LIMIT", 2)
	if err != nil {
		return nil, fmt.Errorf("LOCK_RATE_LIMIT: %w", err)
	}
	cfg.Server = ServerConfig{
		Port:                 getEnv("SERVER_PORT", "8080"),
		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		ReadTimeout:          getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:         getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
		WSAllowedOrigins:     getList("WS_ALLOWED_ORIGINS"),
		LockRateLimit:        lockRPS,
	}

	// ── Database ──────────────────────────────────────────────────────────────
	driver := getEnv("DB_DRIVER", "postgres")
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		if driver == "sqlite" {
			dsn = "file:auction.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		} else {
			// Build DSN from individual components for convenience in dev
			dsn = fmt.Sprintf(
				"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
				getEnv("DB_HOST", "localhost"),
				getEnv("DB_PORT", "5432"),
				getEnv("DB_USER", "postgres"),
				getEnv("DB_PASSWORD", ""),
				getEnv("DB_NAME", "auction"),
				getEnv("DB_SSLMODE", "disable"),
			)
		}
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		AccessTTL:    getDuration("JWT_ACCESS_TTL", 15*time.Minute),
	}

	// ── Auction engine ────────────────────────────────────────────────────────
	retries, err := getInt("AUCTION_WRITE_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_WRITE_RETRIES: %w", err)
	}
	workers, err := getInt("DISPATCHER_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("DISPATCHER_WORKERS: %w", err)
	}
	queue, err := getInt("DISPATCHER_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("DISPATCHER_QUEUE_SIZE: %w", err)
	}
	requireCredit, err := getBool("AUCTION_REQUIRE_CREDIT", true)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_REQUIRE_CREDIT: %w", err)
	}
	honorLate, err := getBool("AUCTION_HONOR_LATE_PAYMENT", true)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_HONOR_LATE_PAYMENT: %w", err)
	}

	cfg.Auction = AuctionConfig{
		LockDuration:        getDuration("AUCTION_LOCK_DURATION", 60*time.Second),
		TickInterval:        getDuration("AUCTION_TICK_INTERVAL", time.Second),
		SweepInterval:       getDuration("AUCTION_SWEEP_INTERVAL", time.Second),
		AuditInterval:       getDuration("AUCTION_AUDIT_INTERVAL", time.Minute),
		RewardInterval:      getDuration("AUCTION_REWARD_INTERVAL", 30*time.Second),
		MaxWriteRetries:     retries,
		RequireCredit:       requireCredit,
		HonorLatePayment:    honorLate,
		DispatcherWorkers:   workers,
		DispatcherQueueSize: queue,
	}

	// ── Payment ───────────────────────────────────────────────────────────────
	cfg.Payment = PaymentConfig{
		StripeSecretKey:  getEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret:    getEnv("STRIPE_WEBHOOK_SECRET", ""),
		Currency:         strings.ToLower(getEnv("PAYMENT_CURRENCY", "aud")),
		WebhookTolerance: getDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
	}

	// ── Redis relay ───────────────────────────────────────────────────────────
	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	cfg.Redis = RedisConfig{
		Addr:     getEnv("REDIS_ADDR", ""),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       redisDB,
		Channel:  getEnv("REDIS_CHANNEL", "auction:snapshots"),
	}

	// ── Notifications ─────────────────────────────────────────────────────────
	cfg.Notify = NotifyConfig{
		WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		Timeout:    getDuration("NOTIFY_TIMEOUT", 5*time.Second),
	}

	// ── Rewards ───────────────────────────────────────────────────────────────
	winnerXP, err := getInt("REWARD_WINNER_XP", 10)
	if err != nil {
		return nil, fmt.Errorf("REWARD_WINNER_XP: %w", err)
	}
	participantXP, err := getInt("REWARD_PARTICIPANT_XP", 1)
	if err != nil {
		return nil, fmt.Errorf("REWARD_PARTICIPANT_XP: %w", err)
	}
	cfg.Rewards = RewardConfig{WinnerXP: winnerXP, ParticipantXP: participantXP}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid bool %q", v)
	}
	return b, nil
}

// getList splits a comma-separated env var, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
