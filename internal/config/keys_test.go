package config

import (
	"errors"
	"strings"
	"testing"
)

func TestGetAPIKey_Precedence(t *testing.T) {
	cfg := Default()
	cfg.Anthropic.APIKey = "sk-ant-fromconfig123456789"

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-fromenv9876543210")
	key, err := GetAPIKey(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-ant-fromenv9876543210" {
		t.Errorf("key = %q, want environment value to win", key)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	key, err = GetAPIKey(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-ant-fromconfig123456789" {
		t.Errorf("key = %q, want config value", key)
	}

	cfg.Anthropic.APIKey = ""
	if _, err := GetAPIKey(cfg); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("error = %v, want ErrNoAPIKey", err)
	}
}

func TestGetAPIKeySource(t *testing.T) {
	cfg := Default()

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	if got := GetAPIKeySource(cfg); got != KeySourceEnv {
		t.Errorf("source = %s, want %s", got, KeySourceEnv)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg.Anthropic.APIKey = "sk-ant-config"
	if got := GetAPIKeySource(cfg); got != KeySourceConfig {
		t.Errorf("source = %s, want %s", got, KeySourceConfig)
	}

	cfg.Anthropic.APIKey = ""
	if got := GetAPIKeySource(cfg); got != KeySourceNone {
		t.Errorf("source = %s, want %s", got, KeySourceNone)
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", "sk-ant-abcdefghijklmnop", false},
		{"empty", "", true},
		{"wrong prefix", "api-key-abcdefghijklmnop", true},
		{"too short", "sk-ant-x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := MaskAPIKey(""); got != "(not set)" {
		t.Errorf("mask of empty = %q, want (not set)", got)
	}
	if got := MaskAPIKey("sk-ant-short"); got != "***" {
		t.Errorf("mask of short key = %q, want ***", got)
	}
	masked := MaskAPIKey("sk-ant-REDACTED")
	if !strings.HasPrefix(masked, "sk-ant-") || !strings.HasSuffix(masked, "1234") {
		t.Errorf("mask = %q, want prefix and last four visible", masked)
	}
	if strings.Contains(masked, "abcdefghijklmnopqrstu") {
		t.Errorf("mask = %q, must not reveal the middle", masked)
	}
}
