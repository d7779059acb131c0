package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "LUMINA_DB_DSN"
	EnvDBHost = "LUMINA_DB_HOST"
	EnvDBUser = "LUMINA_DB_USER"
	EnvDBName = "LUMINA_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RevenueCat   RevenueCatConfig
	Webhooks     WebhooksConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"LUMINA_APP_ENV" required:"true"`
	Port         string `envconfig:"LUMINA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LUMINA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LUMINA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"LUMINA_DB_DSN"`
	Driver string `envconfig:"LUMINA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LUMINA_DB_HOST"`
	LegacyPort     int    `envconfig:"LUMINA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LUMINA_DB_USER"`
	LegacyPassword string `envconfig:"LUMINA_DB_PASSWORD"`
	LegacyName     string `envconfig:"LUMINA_DB_NAME"`
	LegacySSLMode  string `envconfig:"LUMINA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LUMINA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LUMINA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LUMINA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LUMINA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LUMINA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LUMINA_REDIS_ADDR"`
	Password     string        `envconfig:"LUMINA_REDIS_PASSWORD"`
	DB           int           `envconfig:"LUMINA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LUMINA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LUMINA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LUMINA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LUMINA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LUMINA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LUMINA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LUMINA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LUMINA_JWT_EXPIRATION_MINUTES" default:"60"`
}

// RevenueCatConfig carries the billing provider credentials and defaults.
type RevenueCatConfig struct {
	APIKey        string        `envconfig:"LUMINA_REVENUECAT_API_KEY"`
	WebhookSecret string        `envconfig:"LUMINA_REVENUECAT_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"LUMINA_REVENUECAT_BASE_URL" default:"https://api.revenuecat.com"`
	EntitlementID string        `envconfig:"LUMINA_REVENUECAT_ENTITLEMENT_ID" default:"product_a"`
	HTTPTimeout   time.Duration `envconfig:"LUMINA_REVENUECAT_HTTP_TIMEOUT" default:"15s"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"LUMINA_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"LUMINA_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	AnalyticsTopic string `envconfig:"LUMINA_PUBSUB_ANALYTICS_TOPIC" default:"lumina-analytics-events"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LUMINA_AUTO_MIGRATE" default:"false"`
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
