// Package config resolves the runtime configuration: SCHEDULER_* environment
// variables layered under command-line flags, plus the Basic Auth file with
// hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults mirroring the service's documented environment contract.
const (
	DefaultHost     = "0.0.0.0"
	DefaultPort     = 28256
	DefaultDBPath   = "scheduler.db"
	DefaultAuthPath = "auth.json"
	DefaultBasePath = "/"

	DefaultSSLDays    = 365
	DefaultSSLSubject = "/CN=localhost"
)

// Config is the fully resolved service configuration.
type Config struct {
	Host     string
	Port     int
	DBPath   string
	BasePath string

	EnableSSL bool
	SSLCert   string
	SSLKey    string

	EnableIPv6 bool

	AuthPath       string
	DefaultAccount string

	TaskTimeout      time.Duration
	ConditionTimeout time.Duration

	OpenSSLBin string
	SSLDays    int
	SSLSubject string

	StaticRoot string

	OTLPEndpoint string
	OTLPProtocol string

	RateLimitRPM int
}

// FromEnv builds a config from environment variables alone. Flags layer on
// top of this in the command wiring.
func FromEnv() *Config {
	return &Config{
		Host:             envOr("SCHEDULER_HOST", DefaultHost),
		Port:             envInt("SCHEDULER_PORT", DefaultPort),
		DBPath:           envOr("SCHEDULER_DB_PATH", DefaultDBPath),
		BasePath:         envOr("SCHEDULER_BASE_PATH", DefaultBasePath),
		EnableSSL:        Truthy(os.Getenv("SCHEDULER_ENABLE_SSL")),
		SSLCert:          os.Getenv("SCHEDULER_SSL_CERT"),
		SSLKey:           os.Getenv("SCHEDULER_SSL_KEY"),
		EnableIPv6:       Truthy(os.Getenv("SCHEDULER_ENABLE_IPV6")),
		AuthPath:         os.Getenv("SCHEDULER_AUTH"),
		DefaultAccount:   os.Getenv("SCHEDULER_DEFAULT_ACCOUNT"),
		TaskTimeout:      time.Duration(envInt("SCHEDULER_TASK_TIMEOUT", 900)) * time.Second,
		ConditionTimeout: time.Duration(envInt("SCHEDULER_CONDITION_TIMEOUT", 60)) * time.Second,
		OpenSSLBin:       envOr("SCHEDULER_OPENSSL_BIN", "openssl"),
		SSLDays:          envInt("SCHEDULER_SSL_DAYS", DefaultSSLDays),
		SSLSubject:       envOr("SCHEDULER_SSL_SUBJECT", DefaultSSLSubject),
		StaticRoot:       envOr("SCHEDULER_STATIC_ROOT", "www"),
		OTLPEndpoint:     os.Getenv("SCHEDULER_OTLP_ENDPOINT"),
		OTLPProtocol:     envOr("SCHEDULER_OTLP_PROTOCOL", "grpc"),
		RateLimitRPM:     envInt("SCHEDULER_RATE_RPM", 0),
	}
}

// Normalize cleans up values that may arrive quoted or inconsistently shaped
// from shell wrappers and unit files.
func (c *Config) Normalize() error {
	c.DBPath = valueOr(StripWrappingQuotes(c.DBPath), DefaultDBPath)
	c.SSLCert = StripWrappingQuotes(c.SSLCert)
	c.SSLKey = StripWrappingQuotes(c.SSLKey)
	c.AuthPath = StripWrappingQuotes(c.AuthPath)
	c.BasePath = NormalizeBasePath(StripWrappingQuotes(c.BasePath))
	if c.AuthPath == "" {
		c.AuthPath = DefaultAuthPath
	}

	host, err := ResolveListenHost(c.Host, c.EnableIPv6)
	if err != nil {
		return err
	}
	c.Host = host
	return nil
}

// Truthy reports whether an environment value means "on".
func Truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// NormalizeBasePath canonicalizes a mount path: always a leading slash, never
// a trailing one, empty means root.
func NormalizeBasePath(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return "/"
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	if len(base) > 1 {
		base = strings.TrimRight(base, "/")
	}
	if base == "" {
		return "/"
	}
	return base
}

// StripWrappingQuotes removes one layer of matching single or double quotes.
// Systemd Environment= lines and Windows shells often leave them on.
func StripWrappingQuotes(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) >= 2 && trimmed[0] == trimmed[len(trimmed)-1] &&
		(trimmed[0] == '"' || trimmed[0] == '\'') {
		return trimmed[1 : len(trimmed)-1]
	}
	return trimmed
}

// ResolveListenHost maps common IPv4 listen addresses to their IPv6
// equivalents when IPv6 is preferred. Addresses already containing a colon
// pass through.
func ResolveListenHost(host string, preferIPv6 bool) (string, error) {
	if !preferIPv6 {
		return host, nil
	}
	if strings.Contains(host, ":") {
		return host, nil
	}
	normalized := strings.TrimSpace(host)
	if normalized == "" || normalized == "0.0.0.0" {
		return "::", nil
	}
	if normalized == "127.0.0.1" || normalized == "localhost" {
		return "::1", nil
	}
	return "", fmt.Errorf("IPv6 mode requires an IPv6 listen address (for example ::), got %q", host)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
