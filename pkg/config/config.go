package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Rewards      RewardsConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Rewards.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REWARDS_APP_ENV" required:"true"`
	Port         string `envconfig:"REWARDS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"REWARDS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REWARDS_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma separated allow-list; empty means local dev origins.
	CORSOrigins []string `envconfig:"REWARDS_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind        string `envconfig:"REWARDS_SERVICE_KIND" default:"api"`
	MetricsPort string `envconfig:"REWARDS_METRICS_PORT" default:"9090"`
}

type DBConfig struct {
	DSN        string `envconfig:"REWARDS_DB_DSN"`
	SQLitePath string `envconfig:"REWARDS_SQLITE_PATH" default:"rewards.db"`

	LegacyHost     string `envconfig:"REWARDS_DB_HOST"`
	LegacyPort     int    `envconfig:"REWARDS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"REWARDS_DB_USER"`
	LegacyPassword string `envconfig:"REWARDS_DB_PASSWORD"`
	LegacyName     string `envconfig:"REWARDS_DB_NAME"`
	LegacySSLMode  string `envconfig:"REWARDS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REWARDS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REWARDS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REWARDS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REWARDS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REWARDS_REDIS_URL"`
	Address      string        `envconfig:"REWARDS_REDIS_ADDR"`
	Password     string        `envconfig:"REWARDS_REDIS_PASSWORD"`
	DB           int           `envconfig:"REWARDS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REWARDS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REWARDS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REWARDS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REWARDS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REWARDS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig describes how bearer tokens minted by the identity provider are verified.
type JWTConfig struct {
	Secret string `envconfig:"REWARDS_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"REWARDS_JWT_ISSUER" required:"true"`
	// ExpirationMinutes is only used when minting tokens for local tooling and tests.
	ExpirationMinutes int `envconfig:"REWARDS_JWT_EXPIRATION_MINUTES" default:"60"`
}

// RewardsConfig holds the tunables of the points ledger.
type RewardsConfig struct {
	DefaultPointsPerKg string        `envconfig:"REWARDS_DEFAULT_POINTS_PER_KG" default:"10"`
	MaxPointsPerKg     string        `envconfig:"REWARDS_MAX_POINTS_PER_KG" default:"100000"`
	MaxDonationKg      string        `envconfig:"REWARDS_MAX_DONATION_KG" default:"1000"`
	OpTimeout          time.Duration `envconfig:"REWARDS_OP_TIMEOUT" default:"5s"`
	IdempotencyTTL     time.Duration `envconfig:"REWARDS_IDEMPOTENCY_TTL" default:"720h"`
}

// DefaultRate parses the configured fallback points-per-kg rate.
func (r RewardsConfig) DefaultRate() decimal.Decimal {
	return mustDecimal(r.DefaultPointsPerKg)
}

// MaxRate parses the upper bound accepted for the points-per-kg rate.
func (r RewardsConfig) MaxRate() decimal.Decimal {
	return mustDecimal(r.MaxPointsPerKg)
}

// MaxKg parses the largest single donation weight the ledger accepts.
func (r RewardsConfig) MaxKg() decimal.Decimal {
	return mustDecimal(r.MaxDonationKg)
}

func (r RewardsConfig) validate() error {
	for env, raw := range map[string]string{
		EnvDefaultPointsPerKg: r.DefaultPointsPerKg,
		EnvMaxPointsPerKg:     r.MaxPointsPerKg,
		EnvMaxDonationKg:      r.MaxDonationKg,
	} {
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s must be numeric: %w", env, err)
		}
		if !value.IsPositive() {
			return fmt.Errorf("%s must be positive", env)
		}
	}
	if r.DefaultRate().GreaterThan(r.MaxRate()) {
		return fmt.Errorf("%s exceeds %s", EnvDefaultPointsPerKg, EnvMaxPointsPerKg)
	}
	if r.OpTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvOpTimeout)
	}
	return nil
}

func mustDecimal(raw string) decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return value
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"REWARDS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"REWARDS_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"REWARDS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"REWARDS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"REWARDS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DonationApprovalsSubscription string `envconfig:"REWARDS_PUBSUB_DONATION_APPROVALS_SUBSCRIPTION" default:"donation-approvals-rewards"`
	MaxOutstandingMessages        int    `envconfig:"REWARDS_PUBSUB_MAX_OUTSTANDING" default:"16"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
