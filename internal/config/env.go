package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the variable's value, or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// GetIntEnv parses the variable as an integer. Unset, empty, or
// malformed values fall back, with a warning for the malformed case.
func GetIntEnv(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring malformed integer env var", "key", key, "value", v)
		return fallback
	}
	return n
}

// GetBoolEnv parses the variable as a boolean ("true", "1", "false", ...).
// Unset, empty, or malformed values fall back.
func GetBoolEnv(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring malformed boolean env var", "key", key, "value", v)
		return fallback
	}
	return b
}

// GetDurationEnv parses the variable as a Go duration ("90s", "2h").
// Unset, empty, or malformed values fall back.
func GetDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Ignoring malformed duration env var", "key", key, "value", v)
		return fallback
	}
	return d
}

// GetSecretFile reads a trimmed secret from path. Covers Docker secrets
// under /run/secrets and mounted Kubernetes secret volumes. An empty
// path or unreadable file yields an empty secret.
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
