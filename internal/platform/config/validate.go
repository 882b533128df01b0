package config

import (
	"fmt"
	"strings"

	"checkline/internal/compliance/models"
)

// Validate rejects inconsistent configuration.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("store backend %q requires REDIS_URL", c.Store.Backend)
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("store backend %q requires DATABASE_DSN", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if role := models.Role(c.Provisioning.DefaultRole); !role.IsValid() {
		return fmt.Errorf("provisioning default role %q is not a known role", c.Provisioning.DefaultRole)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text (got %q)", c.Log.Format)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}
	if c.Fanout.Concurrency <= 0 {
		return fmt.Errorf("fanout concurrency must be > 0 (got %d)", c.Fanout.Concurrency)
	}
	if c.Audit.Buffer < 0 {
		return fmt.Errorf("audit buffer must be >= 0 (got %d)", c.Audit.Buffer)
	}
	if c.Accounts.BaseURL != "" && c.Accounts.Token == "" {
		return fmt.Errorf("ACCOUNTS_TOKEN is required when ACCOUNTS_BASE_URL is set")
	}
	if c.Identity.BcryptCost < 4 || c.Identity.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be within [4,31] (got %d)", c.Identity.BcryptCost)
	}
	if c.SignIn.LockoutEnabled {
		if c.SignIn.MaxFailures <= 0 {
			return fmt.Errorf("sign-in max failures must be > 0 (got %d)", c.SignIn.MaxFailures)
		}
		if c.SignIn.Window <= 0 || c.SignIn.LockDuration <= 0 {
			return fmt.Errorf("sign-in window and lock duration must be positive")
		}
	}
	return nil
}
