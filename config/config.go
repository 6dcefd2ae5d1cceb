// Package config loads runtime configuration from the environment,
// falling back to a .env file when present (spec.md §6.2).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Backend selects which trust/role/nonce storage implementation to wire up.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendBolt   Backend = "bolt"
	BackendMySQL  Backend = "mysql"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Port string

	StoreBackend Backend
	BoltPath     string

	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	BootstrapDir string
}

// FromEnv loads a .env file if present, then reads configuration from the
// process environment, applying the defaults named in spec.md §6.2/§6.3.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()

	backend := Backend(strings.ToLower(getEnvDefault("STORE_BACKEND", string(BackendBolt))))
	switch backend {
	case BackendMemory, BackendBolt, BackendMySQL:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", backend)
	}

	cfg := &Config{
		Port:          getEnvDefault("PORT", "8000"),
		StoreBackend:  backend,
		BoltPath:      getEnvDefault("BOLT_PATH", "./identity-server.db"),
		MySQLHost:     os.Getenv("MYSQL_HOST"),
		MySQLPort:     os.Getenv("MYSQL_PORT"),
		MySQLUser:     os.Getenv("MYSQL_USER"),
		MySQLPassword: os.Getenv("MYSQL_PASSWORD"),
		MySQLDatabase: os.Getenv("MYSQL_DATABASE"),
		BootstrapDir:  getEnvDefault("BOOTSTRAP_DIR", "."),
	}

	if cfg.StoreBackend == BackendMySQL {
		missing := []string{}
		for name, v := range map[string]string{
			"MYSQL_HOST": cfg.MySQLHost, "MYSQL_USER": cfg.MySQLUser, "MYSQL_DATABASE": cfg.MySQLDatabase,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("STORE_BACKEND=mysql requires %s", strings.Join(missing, ", "))
		}
		if cfg.MySQLPort == "" {
			cfg.MySQLPort = "3306"
		}
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT %q", cfg.Port)
	}

	return cfg, nil
}

// DSN renders the MySQL data source name for gorm's mysql driver.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.MySQLUser, c.MySQLPassword, c.MySQLHost, c.MySQLPort, c.MySQLDatabase)
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
