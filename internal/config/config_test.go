package config_test

import (
	"testing"

	"github.com/MrWong99/fabula/internal/config"
)

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  bool
	}{
		{config.LogDebug, true},
		{config.LogInfo, true},
		{config.LogWarn, true},
		{config.LogError, true},
		{config.LogLevel(""), false},
		{config.LogLevel("trace"), false},
	}
	for _, tc := range tests {
		if got := tc.level.IsValid(); got != tc.want {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestStorageBackendIsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		backend config.StorageBackend
		want    bool
	}{
		{config.BackendMemory, true},
		{config.BackendPostgres, true},
		{config.StorageBackend(""), false},
		{config.StorageBackend("redis"), false},
	}
	for _, tc := range tests {
		if got := tc.backend.IsValid(); got != tc.want {
			t.Errorf("StorageBackend(%q).IsValid() = %v, want %v", tc.backend, got, tc.want)
		}
	}
}
