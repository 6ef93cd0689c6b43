// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string // broker-service
	MCPAddr  string // mcp-gateway

	// OIDC / JWT for callers of the broker (may be tenant-specific via provider)
	Issuer   string
	Audience string
	JWKSURL  string
	// Leeway applied to exp/nbf/iat of caller tokens
	JWTClockSkew time.Duration

	// Redis & Postgres
	RedisURL         string
	RedisPoolSize    int           // 0 keeps the client default
	RedisTimeout     time.Duration // dial, read and write
	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnectTimeout time.Duration // also bounds the startup ping

	// Session lifecycle
	SessionStore     string // memory | postgres | redis
	SessionTTL       time.Duration
	SessionRetention time.Duration // how long expired rows stay refreshable
	SweepInterval    time.Duration // 0 disables the sweeper
	EncryptionKey    string

	// Outbound Archer client
	ArcherConnectTimeout    time.Duration
	ArcherTimeout           time.Duration
	ArcherInsecureTLS       bool
	ArcherDefaultUserDomain string

	// Tool execution
	ToolCatalogDir string
	ToolServerURL  string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                     env("GRC_ENV", "dev"),
		HTTPAddr:                env("GRC_HTTP_ADDR", ":8080"),
		MCPAddr:                 env("GRC_MCP_ADDR", ":8090"),
		Issuer:                  env("OIDC_ISSUER", ""),
		Audience:                env("OIDC_AUDIENCE", "grc-broker"),
		JWKSURL:                 env("JWKS_URL", ""),
		JWTClockSkew:            envDur("JWT_CLOCK_SKEW_SEC", 60) * time.Second,
		RedisURL:                env("REDIS_URL", ""),
		RedisPoolSize:           envInt("REDIS_POOL_SIZE", 0),
		RedisTimeout:            envDur("REDIS_TIMEOUT_MS", 500) * time.Millisecond,
		DatabaseURL:             env("DATABASE_URL", ""),
		DBMaxConns:              envInt("DB_MAX_CONNS", 10),
		DBMinConns:              envInt("DB_MIN_CONNS", 1),
		DBConnectTimeout:        envDur("DB_CONNECT_TIMEOUT_SEC", 5) * time.Second,
		SessionTTL:              envDur("SESSION_TTL_MIN", 20) * time.Minute,
		SessionRetention:        envDur("SESSION_RETENTION_MIN", 24*60) * time.Minute,
		SweepInterval:           envDur("SESSION_SWEEP_INTERVAL_SEC", 0) * time.Second,
		EncryptionKey:           env("ENCRYPTION_KEY", ""),
		ArcherConnectTimeout:    envDur("ARCHER_CONNECT_TIMEOUT_SEC", 10) * time.Second,
		ArcherTimeout:           envDur("ARCHER_TIMEOUT_SEC", 30) * time.Second,
		ArcherInsecureTLS:       envBool("ARCHER_INSECURE_TLS", true),
		ArcherDefaultUserDomain: env("ARCHER_DEFAULT_USER_DOMAIN", ""),
		ToolCatalogDir:          env("TOOL_CATALOG_DIR", ""),
		ToolServerURL:           env("TOOL_SERVER_URL", ""),
	}
	cfg.SessionStore = strings.ToLower(env("SESSION_STORE", defaultStore(cfg)))
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set; using in-memory tenant provider for dev")
	}
	if cfg.SessionStore == "memory" && cfg.Env == "prod" {
		log.Println("[WARN] SESSION_STORE=memory in prod; sessions are lost on restart and not shared between replicas")
	}
	return cfg
}

// defaultStore prefers redis, then postgres, then the in-process map.
func defaultStore(cfg Config) string {
	switch {
	case cfg.RedisURL != "":
		return "redis"
	case cfg.DatabaseURL != "":
		return "postgres"
	}
	return "memory"
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return time.Duration(def)
		}
		return time.Duration(i)
	}
	return time.Duration(def)
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return i
	}
	return def
}
