package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestRedactSensitive(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Info("config loaded",
		"encryption_key", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
		"passphrase", "correct horse",
		"empty_secret", "",
		"collection", "docs")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"encryption_key", redactedValue},
		{"passphrase", redactedValue},
		{"empty_secret", ""},
		{"collection", "docs"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := logEntry[tt.key]; got != tt.want {
				t.Errorf("%s = %v, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestRedactSensitive_Group(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Info("config", slog.Group("security", slog.String("encryption_key", "hunter2hunter2"), slog.String("cipher", "aes-gcm")))

	var logEntry struct {
		Security map[string]string `json:"security"`
	}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	if got := logEntry.Security["encryption_key"]; got != redactedValue {
		t.Errorf("security.encryption_key = %q, want redacted", got)
	}
	if got := logEntry.Security["cipher"]; got != "aes-gcm" {
		t.Errorf("security.cipher = %q, want aes-gcm", got)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"encryption_key", true},
		{"ENCRYPTION_KEY", true},
		{"db_password", true},
		{"client_secret", true},
		{"collection", false},
		{"version", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := IsSensitiveKey(tt.key); got != tt.want {
				t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "***"},
		{"12345678", "********"},
		{"0123456789", "01******89"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := MaskSecret(tt.in); got != tt.want {
				t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
