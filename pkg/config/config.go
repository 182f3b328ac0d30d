package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable read by the service.
	EnvPrefix = "MEDIMART"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "MEDIMART_DB_DSN"
	EnvDBHost = "MEDIMART_DB_HOST"
	EnvDBUser = "MEDIMART_DB_USER"
	EnvDBName = "MEDIMART_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Gateway      GatewayConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Settlement   SettlementConfig
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
	Env          string `envconfig:"MEDIMART_APP_ENV" required:"true"`
	Port         string `envconfig:"MEDIMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MEDIMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEDIMART_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MEDIMART_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MEDIMART_DB_DSN"`
	Driver string `envconfig:"MEDIMART_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEDIMART_DB_HOST"`
	LegacyPort     int    `envconfig:"MEDIMART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEDIMART_DB_USER"`
	LegacyPassword string `envconfig:"MEDIMART_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEDIMART_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEDIMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEDIMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEDIMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEDIMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEDIMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MEDIMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MEDIMART_REDIS_ADDR"`
	Password     string        `envconfig:"MEDIMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEDIMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEDIMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEDIMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEDIMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEDIMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEDIMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MEDIMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MEDIMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MEDIMART_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MEDIMART_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MEDIMART_AUTO_MIGRATE" default:"false"`
}

// GatewayConfig carries the Square payment-gateway credentials.
type GatewayConfig struct {
	AccessToken   string `envconfig:"MEDIMART_GATEWAY_ACCESS_TOKEN"`
	Env           string `envconfig:"MEDIMART_GATEWAY_ENV" default:"sandbox"`
	WebhookSecret string `envconfig:"MEDIMART_GATEWAY_WEBHOOK_SECRET"`
}

// Environment returns the normalized gateway environment (sandbox/production).
func (g GatewayConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(g.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MEDIMART_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MEDIMART_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MEDIMART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"MEDIMART_PUBSUB_DOMAIN_TOPIC" default:"mm-settlement-events"`
	DomainSubscription string `envconfig:"MEDIMART_PUBSUB_DOMAIN_SUBSCRIPTION" default:"mm-settlement-events-sub"`
}

type BigQueryConfig struct {
	Dataset             string `envconfig:"MEDIMART_BIGQUERY_DATASET" default:"medimart"`
	RevenueSummaryTable string `envconfig:"MEDIMART_BIGQUERY_REVENUE_TABLE" default:"revenue_summaries"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MEDIMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MEDIMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MEDIMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// SettlementConfig holds the money and loyalty policy knobs.
type SettlementConfig struct {
	// DefaultCommissionBps is the platform cut applied when a vendor has no
	// commission row, in basis points (1500 = 15%).
	DefaultCommissionBps int `envconfig:"MEDIMART_SETTLEMENT_DEFAULT_COMMISSION_BPS" default:"1500"`
	// RefundPointsPerUnit is the promotional credit rate applied on refunds:
	// points granted per whole currency unit refunded.
	RefundPointsPerUnit int `envconfig:"MEDIMART_SETTLEMENT_REFUND_POINTS_PER_UNIT" default:"10"`
	// PointsExpiryDays is the default accrual expiry window for new ledgers.
	PointsExpiryDays int `envconfig:"MEDIMART_SETTLEMENT_POINTS_EXPIRY_DAYS" default:"365"`
	// ReconciliationMaxAttempts caps replays before a task is abandoned.
	ReconciliationMaxAttempts int `envconfig:"MEDIMART_SETTLEMENT_RECONCILIATION_MAX_ATTEMPTS" default:"8"`
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
