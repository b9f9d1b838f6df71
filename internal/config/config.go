package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Status backends understood by APP_STATUS_BACKEND.
const (
	StatusBackendPostgres = "postgres"
	StatusBackendRedis    = "redis"
)

type Config struct {
	ListenAddr string

	DB struct {
		DSN           string
		RunMigrations bool
	}

	StatusBackend string
	Redis         RedisConfig

	LogLevel      string
	DefaultLocale string

	// APITokens maps owners to bcrypt hashes of their bearer tokens.
	APITokens map[string]string
	// OIDC optionally accepts ID tokens issued by an identity provider as
	// bearer tokens.
	OIDC OIDCConfig

	AutoProcess string
	PolicyFile  string

	PrometheusEnabled bool
	TrustedProxies    []string
}

// OIDCConfig names the trusted issuer. An empty Issuer disables it.
type OIDCConfig struct {
	Issuer     string
	Audience   string
	OwnerClaim string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")
	cfg.DB.RunMigrations = getenvBool("APP_RUN_MIGRATIONS", true)

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.StatusBackend = strings.ToLower(getenvDefault("APP_STATUS_BACKEND", StatusBackendPostgres))
	redisDB, err := strconv.Atoi(getenvDefault("APP_REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_REDIS_DB: %w", err)
	}
	cfg.Redis = RedisConfig{
		Addr:     getenvDefault("APP_REDIS_ADDR", "127.0.0.1:6379"),
		Password: os.Getenv("APP_REDIS_PASSWORD"),
		DB:       redisDB,
	}

	cfg.LogLevel = getenvDefault("APP_LOG_LEVEL", "info")
	cfg.DefaultLocale = getenvDefault("APP_DEFAULT_LOCALE", "en")
	cfg.AutoProcess = strings.ToLower(getenvDefault("APP_AUTOPROCESS", "never"))
	cfg.PolicyFile = os.Getenv("APP_POLICY_FILE")
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	cfg.APITokens, err = parseTokens(getenvList("APP_API_TOKENS"))
	if err != nil {
		return nil, err
	}
	cfg.OIDC = OIDCConfig{
		Issuer:     strings.TrimSuffix(os.Getenv("APP_OIDC_ISSUER"), "/"),
		Audience:   os.Getenv("APP_OIDC_AUDIENCE"),
		OwnerClaim: getenvDefault("APP_OIDC_OWNER_CLAIM", "email"),
	}

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	switch cfg.StatusBackend {
	case StatusBackendPostgres, StatusBackendRedis:
	default:
		return nil, fmt.Errorf("APP_STATUS_BACKEND must be %q or %q (got %q)", StatusBackendPostgres, StatusBackendRedis, cfg.StatusBackend)
	}
	if cfg.OIDC.Issuer != "" && cfg.OIDC.Audience == "" {
		return nil, errors.New("APP_OIDC_AUDIENCE is required when APP_OIDC_ISSUER is set")
	}
	if len(cfg.APITokens) == 0 && cfg.OIDC.Issuer == "" {
		return nil, errors.New("APP_API_TOKENS is required (owner=bcrypt-hash, comma separated) unless APP_OIDC_ISSUER is set")
	}

	return cfg, nil
}

func parseTokens(entries []string) (map[string]string, error) {
	tokens := make(map[string]string, len(entries))
	for _, entry := range entries {
		owner, hash, ok := strings.Cut(entry, "=")
		owner, hash = strings.TrimSpace(owner), strings.TrimSpace(hash)
		if !ok || owner == "" || hash == "" {
			return nil, fmt.Errorf("invalid APP_API_TOKENS entry %q: want owner=hash", entry)
		}
		if _, dup := tokens[owner]; dup {
			return nil, fmt.Errorf("duplicate APP_API_TOKENS owner %q", owner)
		}
		tokens[owner] = hash
	}
	return tokens, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
