// Package config loads the gateway configuration from the environment.
//
// All knobs are plain environment variables so the host container platform
// can inject them without a config file. Values are read once at startup into
// a Config struct that is passed explicitly to the subsystems.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults for tunables that are normally left unset.
const (
	DefaultPort              = 8080
	DefaultTokenExpiry       = 3600
	DefaultEmbeddingTimeout  = 40 * time.Second
	DefaultSessionLimit      = 10
	DefaultSessionIdle       = 300 * time.Second
	DefaultRateLimitPerMin   = 120
	DefaultMaxPayloadBytes   = 1 << 20
	DefaultDatabaseTimeout   = 30 * time.Second
	DefaultMemoryLimitBytes  = uint64(4.5 * 1024 * 1024 * 1024)
	DefaultMemoryRecoverFrac = 0.9
)

// Config holds the full runtime configuration for the gateway.
type Config struct {
	Port      int
	Transport string

	Neo4jURI      string
	Neo4jUsername string
	Neo4jPassword string

	RequireAuthentication bool
	StaticBearerToken     string

	OAuthEnabled     bool
	OAuthIssuer      string
	OAuthTokenExpiry time.Duration
	OAuthJWTSecret   string
	OAuthClientStore string
	OAuthClientDB    string

	EnableCORS         bool
	CORSAllowedOrigins []string

	RateLimitPerMinute int
	MaxSessions        int
	SessionIdleTimeout time.Duration
	MaxPayloadBytes    int64

	DatabaseTimeout time.Duration

	EmbeddingTimeout         time.Duration
	EmbeddingServiceURL      string
	EnableAutoUnload         bool
	EnableResourceMonitoring bool
	MemoryLimitBytes         uint64

	GraphRAGEnabled      bool
	GraphRAGGlobalSearch bool
	GraphRAGLocalSearch  bool

	SchemaEnforcementStrict bool

	EnableMetrics bool
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", DefaultPort)
	v.SetDefault("MCP_TRANSPORT", "sse")
	v.SetDefault("NEO4J_URI", "bolt://localhost:7687")
	v.SetDefault("NEO4J_USERNAME", "neo4j")
	v.SetDefault("REQUIRE_AUTHENTICATION", true)
	v.SetDefault("OAUTH_ENABLED", true)
	v.SetDefault("OAUTH_TOKEN_EXPIRY", DefaultTokenExpiry)
	v.SetDefault("OAUTH_CLIENT_STORE", "memory")
	v.SetDefault("OAUTH_CLIENT_DB", "oauth_clients.db")
	v.SetDefault("ENABLE_CORS", true)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "https://claude.ai")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", DefaultRateLimitPerMin)
	v.SetDefault("MAX_SESSIONS", DefaultSessionLimit)
	v.SetDefault("SESSION_IDLE_TIMEOUT", int(DefaultSessionIdle.Seconds()))
	v.SetDefault("MAX_PAYLOAD_BYTES", DefaultMaxPayloadBytes)
	v.SetDefault("DATABASE_TIMEOUT", int(DefaultDatabaseTimeout.Seconds()))
	v.SetDefault("EMBEDDING_TIMEOUT", int(DefaultEmbeddingTimeout.Seconds()))
	v.SetDefault("ENABLE_AUTO_UNLOAD", false)
	v.SetDefault("ENABLE_RESOURCE_MONITORING", false)
	v.SetDefault("MEMORY_LIMIT_BYTES", DefaultMemoryLimitBytes)
	v.SetDefault("GRAPHRAG_ENABLED", true)
	v.SetDefault("GRAPHRAG_GLOBAL_SEARCH", true)
	v.SetDefault("GRAPHRAG_LOCAL_SEARCH", true)
	v.SetDefault("SCHEMA_ENFORCEMENT_STRICT", false)
	v.SetDefault("ENABLE_METRICS", false)

	cfg := &Config{
		Port:      v.GetInt("PORT"),
		Transport: v.GetString("MCP_TRANSPORT"),

		Neo4jURI:      v.GetString("NEO4J_URI"),
		Neo4jUsername: v.GetString("NEO4J_USERNAME"),
		Neo4jPassword: v.GetString("NEO4J_PASSWORD"),

		RequireAuthentication: v.GetBool("REQUIRE_AUTHENTICATION"),
		StaticBearerToken:     firstNonEmpty(v.GetString("RAILWAY_BEARER_TOKEN"), v.GetString("LEGACY_BEARER_TOKEN")),

		OAuthEnabled:     v.GetBool("OAUTH_ENABLED"),
		OAuthIssuer:      strings.TrimRight(v.GetString("OAUTH_ISSUER"), "/"),
		OAuthTokenExpiry: time.Duration(v.GetInt("OAUTH_TOKEN_EXPIRY")) * time.Second,
		OAuthJWTSecret:   v.GetString("OAUTH_JWT_SECRET"),
		OAuthClientStore: v.GetString("OAUTH_CLIENT_STORE"),
		OAuthClientDB:    v.GetString("OAUTH_CLIENT_DB"),

		EnableCORS:         v.GetBool("ENABLE_CORS"),
		CORSAllowedOrigins: splitAndTrim(v.GetString("CORS_ALLOWED_ORIGINS")),

		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		MaxSessions:        v.GetInt("MAX_SESSIONS"),
		SessionIdleTimeout: time.Duration(v.GetInt("SESSION_IDLE_TIMEOUT")) * time.Second,
		MaxPayloadBytes:    v.GetInt64("MAX_PAYLOAD_BYTES"),

		DatabaseTimeout: time.Duration(v.GetInt("DATABASE_TIMEOUT")) * time.Second,

		EmbeddingTimeout:         time.Duration(v.GetInt("EMBEDDING_TIMEOUT")) * time.Second,
		EmbeddingServiceURL:      v.GetString("EMBEDDING_SERVICE_URL"),
		EnableAutoUnload:         v.GetBool("ENABLE_AUTO_UNLOAD"),
		EnableResourceMonitoring: v.GetBool("ENABLE_RESOURCE_MONITORING"),
		MemoryLimitBytes:         v.GetUint64("MEMORY_LIMIT_BYTES"),

		GraphRAGEnabled:      v.GetBool("GRAPHRAG_ENABLED"),
		GraphRAGGlobalSearch: v.GetBool("GRAPHRAG_GLOBAL_SEARCH"),
		GraphRAGLocalSearch:  v.GetBool("GRAPHRAG_LOCAL_SEARCH"),

		SchemaEnforcementStrict: v.GetBool("SCHEMA_ENFORCEMENT_STRICT"),

		EnableMetrics: v.GetBool("ENABLE_METRICS"),
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Transport != "sse" {
		return fmt.Errorf("unsupported MCP_TRANSPORT %q: this profile only serves sse", c.Transport)
	}
	if c.OAuthEnabled {
		if c.OAuthIssuer == "" {
			return fmt.Errorf("OAUTH_ISSUER is required when OAUTH_ENABLED is true")
		}
		if c.OAuthJWTSecret == "" {
			return fmt.Errorf("OAUTH_JWT_SECRET is required when OAUTH_ENABLED is true")
		}
	}
	if c.RequireAuthentication && !c.OAuthEnabled && c.StaticBearerToken == "" {
		return fmt.Errorf("REQUIRE_AUTHENTICATION is true but no credential mode is configured")
	}
	if store := c.OAuthClientStore; store != "memory" && store != "sqlite" {
		return fmt.Errorf("unknown OAUTH_CLIENT_STORE %q (want memory or sqlite)", store)
	}
	return nil
}

// ResourceURL returns the canonical URL of the protected resource, which is
// stamped into JWT audiences and the protected-resource metadata.
func (c *Config) ResourceURL() string {
	return c.OAuthIssuer
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
