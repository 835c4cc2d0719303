package config

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SessionBackendAuto     = "auto"
	SessionBackendMemory   = "memory"
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	HTTP              HTTPConfig
	LogLevel          string
	DatabaseURL       string
	Redis             RedisConfig
	Auth              AuthConfig
	PortfolioTable    string
	PortfolioSeedFile string
	AuditLogFile      string
	SecurityLogFile   string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// TrustedProxies lists the peers whose forwarding headers name the client.
	TrustedProxies []netip.Prefix
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	BootstrapEmail    string
	BootstrapUsername string
	BootstrapPassword string
	BootstrapOrg      string
	BootstrapRole     string
	PasswordPepper    string
	BcryptCost        int
	SessionTTL        time.Duration
	SessionBackend    string
	CookieSecure      bool
	LoginRateLimitRPM int
	SessionStateFile  string
	UserStateFile     string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
		},
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			BootstrapEmail:    getEnv("AUTH_BOOTSTRAP_EMAIL", "admin@example.com"),
			BootstrapUsername: getEnv("AUTH_BOOTSTRAP_USERNAME", "admin"),
			BootstrapPassword: getEnv("AUTH_BOOTSTRAP_PASSWORD", "admin123"),
			BootstrapOrg:      getEnv("AUTH_BOOTSTRAP_ORG", "Default Organization"),
			BootstrapRole:     getEnv("AUTH_BOOTSTRAP_ROLE", "admin"),
			PasswordPepper:    getEnv("AUTH_PASSWORD_PEPPER", "change-me-in-production"),
			BcryptCost:        getEnvInt("AUTH_BCRYPT_COST", 10),
			SessionTTL:        time.Duration(getEnvInt("AUTH_SESSION_TTL_SEC", 600)) * time.Second,
			SessionBackend:    strings.ToLower(getEnv("SESSION_BACKEND", SessionBackendAuto)),
			CookieSecure:      getEnvBool("AUTH_COOKIE_SECURE", false),
			LoginRateLimitRPM: getEnvInt("AUTH_LOGIN_RATE_LIMIT_RPM", 30),
			SessionStateFile:  getEnv("AUTH_SESSION_STATE_FILE", "./data/auth_sessions.json"),
			UserStateFile:     getEnv("AUTH_USER_STATE_FILE", "./data/auth_users.json"),
		},
		PortfolioTable:    getEnv("PORTFOLIO_TABLE", "portfolio_companies"),
		PortfolioSeedFile: getEnv("PORTFOLIO_SEED_FILE", ""),
		AuditLogFile:      getEnv("AUDIT_LOG_FILE", "./data/portfolio_audit.log"),
		SecurityLogFile:   getEnv("SECURITY_LOG_FILE", "./data/security.log"),
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	proxies, err := parseTrustedProxies(getEnv("HTTP_TRUSTED_PROXIES", ""))
	if err != nil {
		return Config{}, fmt.Errorf("HTTP_TRUSTED_PROXIES: %w", err)
	}
	cfg.HTTP.TrustedProxies = proxies
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch cfg.Auth.SessionBackend {
	case SessionBackendAuto, SessionBackendMemory:
	case SessionBackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("SESSION_BACKEND=postgres requires DATABASE_URL")
		}
	case SessionBackendRedis:
		if cfg.Redis.Addr == "" {
			return Config{}, fmt.Errorf("SESSION_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return Config{}, fmt.Errorf("SESSION_BACKEND must be one of auto, memory, postgres, redis")
	}
	if cfg.Auth.BootstrapEmail == "" {
		return Config{}, fmt.Errorf("AUTH_BOOTSTRAP_EMAIL must not be empty")
	}
	if cfg.Auth.BootstrapUsername == "" {
		return Config{}, fmt.Errorf("AUTH_BOOTSTRAP_USERNAME must not be empty")
	}
	if cfg.Auth.BootstrapPassword == "" {
		return Config{}, fmt.Errorf("AUTH_BOOTSTRAP_PASSWORD must not be empty")
	}
	if cfg.Auth.PasswordPepper == "" {
		return Config{}, fmt.Errorf("AUTH_PASSWORD_PEPPER must not be empty")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return Config{}, fmt.Errorf("AUTH_BCRYPT_COST must be between 4 and 31")
	}
	if cfg.Auth.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("AUTH_SESSION_TTL_SEC must be > 0")
	}
	if cfg.Auth.LoginRateLimitRPM < 0 {
		return Config{}, fmt.Errorf("AUTH_LOGIN_RATE_LIMIT_RPM must be >= 0")
	}
	if cfg.Auth.UserStateFile == "" {
		return Config{}, fmt.Errorf("AUTH_USER_STATE_FILE must not be empty")
	}
	if !identifierPattern.MatchString(cfg.PortfolioTable) {
		return Config{}, fmt.Errorf("PORTFOLIO_TABLE must be a plain SQL identifier")
	}
	if cfg.AuditLogFile == "" {
		return Config{}, fmt.Errorf("AUDIT_LOG_FILE must not be empty")
	}
	if cfg.SecurityLogFile == "" {
		return Config{}, fmt.Errorf("SECURITY_LOG_FILE must not be empty")
	}

	return cfg, nil
}

// parseTrustedProxies reads a comma separated list of CIDRs or bare
// addresses.
func parseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			prefix, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q", part)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q", part)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return strings.TrimSpace(val)
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	}
	return fallback
}
