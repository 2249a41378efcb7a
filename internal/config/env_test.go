package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_GET_ENV", "value")

	if got := GetEnv("TEST_GET_ENV", "default"); got != "value" {
		t.Errorf("GetEnv() = %q, want %q", got, "value")
	}
	if got := GetEnv("TEST_GET_ENV_MISSING", "default"); got != "default" {
		t.Errorf("GetEnv() = %q, want %q", got, "default")
	}
}

func TestGetIntEnv(t *testing.T) {
	t.Setenv("TEST_INT_ENV", "42")
	t.Setenv("TEST_INT_ENV_BAD", "not-a-number")

	if got := GetIntEnv("TEST_INT_ENV", 7); got != 42 {
		t.Errorf("GetIntEnv() = %d, want 42", got)
	}
	if got := GetIntEnv("TEST_INT_ENV_BAD", 7); got != 7 {
		t.Errorf("GetIntEnv() with invalid value = %d, want default 7", got)
	}
	if got := GetIntEnv("TEST_INT_ENV_MISSING", 7); got != 7 {
		t.Errorf("GetIntEnv() missing = %d, want default 7", got)
	}
}

func TestGetBoolEnv(t *testing.T) {
	t.Setenv("TEST_BOOL_ENV", "true")
	t.Setenv("TEST_BOOL_ENV_BAD", "yes-please")

	if got := GetBoolEnv("TEST_BOOL_ENV", false); !got {
		t.Error("GetBoolEnv() = false, want true")
	}
	if got := GetBoolEnv("TEST_BOOL_ENV_BAD", false); got {
		t.Error("GetBoolEnv() with invalid value should return default")
	}
}

func TestGetDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR_ENV", "90s")

	if got := GetDurationEnv("TEST_DUR_ENV", time.Minute); got != 90*time.Second {
		t.Errorf("GetDurationEnv() = %s, want 90s", got)
	}
	if got := GetDurationEnv("TEST_DUR_ENV_MISSING", time.Minute); got != time.Minute {
		t.Errorf("GetDurationEnv() missing = %s, want 1m", got)
	}
}

func TestGetSecretFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "api-key")
	if err := os.WriteFile(path, []byte("  secret-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := GetSecretFile(path); got != "secret-token" {
		t.Errorf("GetSecretFile() = %q, want trimmed %q", got, "secret-token")
	}
	if got := GetSecretFile(filepath.Join(dir, "missing")); got != "" {
		t.Errorf("GetSecretFile() missing file = %q, want empty", got)
	}
	if got := GetSecretFile(""); got != "" {
		t.Errorf("GetSecretFile(\"\") = %q, want empty", got)
	}
}
