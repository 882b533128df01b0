// Package config loads service configuration from an optional YAML file and
// environment variables (ENV wins over YAML, YAML over env-default tags).
package config

import "time"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Server       Server             `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Store        StoreConfig        `yaml:"store"`
	Redis        RedisConfig        `yaml:"redis"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Identity     IdentityConfig     `yaml:"identity"`
	Accounts     AccountsConfig     `yaml:"accounts"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Fanout       FanoutConfig       `yaml:"fanout"`
	Audit        AuditConfig        `yaml:"audit"`
	SignIn       SignInConfig       `yaml:"sign_in"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"             env:"CHECKLINE_ADDR"            env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"       env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"      env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"   env-default:"10s"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout"    env:"SERVER_READY_TIMEOUT"      env-default:"15s"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"STORE_BACKEND" env-default:"memory"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"            env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size"      env:"REDIS_POOL_SIZE"       env-default:"20"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS"  env-default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout"   env:"REDIS_DIAL_TIMEOUT"    env-default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout"   env:"REDIS_READ_TIMEOUT"    env-default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout"  env:"REDIS_WRITE_TIMEOUT"   env-default:"3s"`
}

type PostgresConfig struct {
	DSN               string        `yaml:"dsn"                 env:"DATABASE_DSN"`
	MaxConns          int32         `yaml:"max_conns"           env:"DATABASE_MAX_CONNS"           env-default:"20"`
	MinConns          int32         `yaml:"min_conns"           env:"DATABASE_MIN_CONNS"           env-default:"2"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime"   env:"DATABASE_MAX_CONN_LIFETIME"   env-default:"1h"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"  env:"DATABASE_RECONNECT_INTERVAL"  env-default:"2s"`
}

// KafkaConfig enables notification dispatch when Brokers is non-empty.
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"         env:"KAFKA_BROKERS"          env-separator:","`
	Topic          string        `yaml:"topic"           env:"KAFKA_TOPIC"            env-default:"checkline.notifications"`
	ClientID       string        `yaml:"client_id"       env:"KAFKA_CLIENT_ID"        env-default:"checkline"`
	ProduceTimeout time.Duration `yaml:"produce_timeout" env:"KAFKA_PRODUCE_TIMEOUT"  env-default:"10s"`
	Partitions     int32         `yaml:"partitions"      env:"KAFKA_PARTITIONS"       env-default:"3"`
	Replication    int16         `yaml:"replication"     env:"KAFKA_REPLICATION"      env-default:"1"`
}

// IdentityConfig configures the local identity provider.
type IdentityConfig struct {
	SigningKey string        `yaml:"signing_key" env:"JWT_SIGNING_KEY" env-default:"dev-secret-key-change-in-production"`
	Issuer     string        `yaml:"issuer"      env:"JWT_ISSUER"      env-default:"checkline"`
	TokenTTL   time.Duration `yaml:"token_ttl"   env:"JWT_TOKEN_TTL"   env-default:"1h"`
	BcryptCost int           `yaml:"bcrypt_cost" env:"BCRYPT_COST"     env-default:"10"`
}

// AccountsConfig points at the privileged account-operations endpoint.
// An empty BaseURL uses the in-process identity provider instead.
type AccountsConfig struct {
	BaseURL string        `yaml:"base_url" env:"ACCOUNTS_BASE_URL"`
	Token   string        `yaml:"token"    env:"ACCOUNTS_TOKEN"`
	Timeout time.Duration `yaml:"timeout"  env:"ACCOUNTS_TIMEOUT"  env-default:"10s"`
}

// ProvisioningConfig controls auto-provisioning of missing profiles on sign-in.
type ProvisioningConfig struct {
	Enabled     bool   `yaml:"enabled"      env:"PROVISIONING_ENABLED"       env-default:"true"`
	DefaultRole string `yaml:"default_role" env:"PROVISIONING_DEFAULT_ROLE"  env-default:"MANAGER"`
}

type FanoutConfig struct {
	Concurrency int `yaml:"concurrency" env:"FANOUT_CONCURRENCY" env-default:"8"`
}

// AuditConfig sets the async audit buffer; 0 writes synchronously.
type AuditConfig struct {
	Buffer int `yaml:"buffer" env:"AUDIT_BUFFER" env-default:"256"`
}

// SignInConfig locks an email and client IP pair after MaxFailures within
// Window. Locks are shared across replicas only on the redis backend.
type SignInConfig struct {
	LockoutEnabled bool          `yaml:"lockout_enabled" env:"SIGNIN_LOCKOUT_ENABLED" env-default:"true"`
	MaxFailures    int           `yaml:"max_failures"    env:"SIGNIN_MAX_FAILURES"    env-default:"5"`
	Window         time.Duration `yaml:"window"          env:"SIGNIN_WINDOW"          env-default:"15m"`
	LockDuration   time.Duration `yaml:"lock_duration"   env:"SIGNIN_LOCK_DURATION"   env-default:"15m"`
}
