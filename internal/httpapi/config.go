package httpapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr     = ":8080"
	defaultAllowedOrigin  = "*"
	defaultRequestTimeout = 60 * time.Second
	defaultSessionIssuer  = "tauth"
	defaultSessionCookie  = "app_session"
	shutdownTimeout       = 5 * time.Second
)

// Config aggregates runtime settings for the HTTP facade.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	RequestTimeout    time.Duration
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	AdminUserIDs      []string
}

// Validate applies defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen addr is required")
	}
	if len(cfg.AdminUserIDs) > 0 && len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required when admin user ids are set")
	}
	return nil
}

// AdminEnabled reports whether the session-guarded admin routes are mounted.
func (cfg Config) AdminEnabled() bool {
	return len(cfg.SessionSigningKey) > 0
}

func (cfg Config) allowsAllOrigins() bool {
	for _, origin := range cfg.AllowedOrigins {
		if origin == defaultAllowedOrigin {
			return true
		}
	}
	return false
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseList splits a comma-delimited value into trimmed, non-empty parts.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
