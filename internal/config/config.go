package config

import (
	"errors"
	"fmt"
	"log"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

const minSessionSecretLength = 32

type Config struct {
	Port             string
	DBDriver         string
	DSN              string
	DBMaxOpenConns   int
	SessionSecret    string
	SessionTTL       time.Duration
	CookieSecure     bool
	CORSOrigins      []string
	TrustedProxies   []netip.Prefix
	AuthRateLimit    int
	AuthRateWindow   time.Duration
	ShutdownDeadline time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:             getEnvOrDefault("SERVER_PORT", "5000"),
		DBDriver:         getEnvOrDefault("DB_DRIVER", "sqlite3"),
		DBMaxOpenConns:   getIntEnvOrDefault("DB_MAX_OPEN_CONNS", 10),
		SessionSecret:    strings.TrimSpace(os.Getenv("SESSION_SECRET")),
		SessionTTL:       time.Duration(getIntEnvOrDefault("SESSION_TTL_HOURS", 24)) * time.Hour,
		CookieSecure:     getBoolEnvOrDefault("COOKIE_SECURE", false),
		CORSOrigins:      splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		AuthRateLimit:    getIntEnvOrDefault("AUTH_RATE_LIMIT", 5),
		AuthRateWindow:   time.Duration(getIntEnvOrDefault("AUTH_RATE_WINDOW_MINUTES", 15)) * time.Minute,
		ShutdownDeadline: 5 * time.Second,
	}

	proxies, err := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies

	dsn, err := buildDSN(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	cfg.DSN = dsn

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return ":" + c.Port
}

func (c *Config) validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("SERVER_PORT must be a number, got %q", c.Port)
	}
	if len(c.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters", minSessionSecretLength)
	}
	return nil
}

func buildDSN(driver string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		if driver == "mysql" {
			return withParseTime(dsn)
		}
		return dsn, nil
	}

	switch driver {
	case "sqlite3":
		return "taskmaster.db?_foreign_keys=on", nil
	case "postgres":
		requiredEnvVars := []string{
			"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
			"POSTGRES_HOST", "POSTGRES_PORT",
		}
		for _, env := range requiredEnvVars {
			if os.Getenv(env) == "" {
				return "", fmt.Errorf("environment variable %s must be set when DATABASE_URL is empty", env)
			}
		}
		return fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			os.Getenv("POSTGRES_HOST"), os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"),
			os.Getenv("POSTGRES_DB"), os.Getenv("POSTGRES_PORT"), getEnvOrDefault("POSTGRES_SSLMODE", "disable")), nil
	case "mysql":
		return "", errors.New("DATABASE_URL must be set for the mysql driver")
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// DATETIME and DATE columns only scan into time.Time with parseTime on.
func withParseTime(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		log.Printf("Invalid %s=%q, using default %d", key, raw, defaultValue)
		return defaultValue
	}
	return value
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %t", key, raw, defaultValue)
		return defaultValue
	}
	return value
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

// parseTrustedProxies accepts single addresses and CIDR ranges.
func parseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range splitList(raw) {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid range %q", entry)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q", entry)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
