package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "LOYALTY"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "LOYALTY_APP_ENV"
	EnvPort   = "LOYALTY_APP_PORT"
	EnvDBDSN  = "LOYALTY_DB_DSN"
	EnvDBHost = "LOYALTY_DB_HOST"
	EnvDBUser = "LOYALTY_DB_USER"
	EnvDBName = "LOYALTY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	ERP     ERPConfig
	Loyalty LoyaltyConfig
	Poller  PollerConfig
	JWT     JWTConfig
	Metrics MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LOYALTY_APP_ENV" required:"true"`
	Port         string `envconfig:"LOYALTY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LOYALTY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LOYALTY_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"LOYALTY_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"LOYALTY_DB_DSN"`

	LegacyHost     string `envconfig:"LOYALTY_DB_HOST"`
	LegacyPort     int    `envconfig:"LOYALTY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LOYALTY_DB_USER"`
	LegacyPassword string `envconfig:"LOYALTY_DB_PASSWORD"`
	LegacyName     string `envconfig:"LOYALTY_DB_NAME"`
	LegacySSLMode  string `envconfig:"LOYALTY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LOYALTY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LOYALTY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LOYALTY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LOYALTY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LOYALTY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LOYALTY_REDIS_ADDR"`
	Password     string        `envconfig:"LOYALTY_REDIS_PASSWORD"`
	DB           int           `envconfig:"LOYALTY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LOYALTY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LOYALTY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LOYALTY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LOYALTY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LOYALTY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ERPConfig points at the MoySklad-compatible remap API the ledger reconciles
// against.
type ERPConfig struct {
	BaseURL        string        `envconfig:"LOYALTY_ERP_BASE_URL" required:"true"`
	Token          string        `envconfig:"LOYALTY_ERP_TOKEN" required:"true"`
	Timeout        time.Duration `envconfig:"LOYALTY_ERP_TIMEOUT" default:"10s"`
	RetryAttempts  int           `envconfig:"LOYALTY_ERP_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"LOYALTY_ERP_RETRY_BASE_DELAY" default:"500ms"`
	ShippedState   string        `envconfig:"LOYALTY_ERP_SHIPPED_STATE" default:"Отгружен"`
}

type LoyaltyConfig struct {
	// SignupBonus is credited (and recorded as an accrual transaction) when a
	// chat user is first linked to an ERP counterparty. Minor units.
	SignupBonus int64 `envconfig:"LOYALTY_SIGNUP_BONUS" default:"10000"`
	// TiersJSON optionally replaces the built-in tier table. See internal/tiers.
	TiersJSON string `envconfig:"LOYALTY_TIERS_JSON"`
}

type PollerConfig struct {
	Interval   time.Duration `envconfig:"LOYALTY_POLL_INTERVAL" default:"30s"`
	BatchLimit int           `envconfig:"LOYALTY_POLL_BATCH_LIMIT" default:"10"`
	LockKey    string        `envconfig:"LOYALTY_POLL_LOCK_KEY" default:"accrual-poller"`
	LockTTL    time.Duration `envconfig:"LOYALTY_POLL_LOCK_TTL" default:"5m"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LOYALTY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LOYALTY_JWT_ISSUER" default:"loyalty-backend"`
	ExpirationMinutes int    `envconfig:"LOYALTY_JWT_EXPIRATION_MINUTES" default:"180"`
}

// Expiration returns the service token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type MetricsConfig struct {
	Addr string `envconfig:"LOYALTY_METRICS_ADDR" default:":9090"`
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
