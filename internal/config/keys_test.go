package config

import (
	"testing"
)

func clearKeyEnv(t *testing.T) {
	t.Helper()
	for _, name := range apiKeyEnv {
		t.Setenv(name, "")
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Run("from environment variable", func(t *testing.T) {
		clearKeyEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key")

		key, src, err := ResolveAPIKey(&Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}})
		if err != nil || key != "sk-ant-env-key" || src != KeySourceEnv {
			t.Errorf("got (%q, %q, %v)", key, src, err)
		}
	})

	t.Run("weave variable wins", func(t *testing.T) {
		clearKeyEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key")
		t.Setenv("WEAVE_ANTHROPIC_API_KEY", "sk-ant-weave-key")

		key, _, _ := ResolveAPIKey(nil)
		if key != "sk-ant-weave-key" {
			t.Errorf("key = %q, want sk-ant-weave-key", key)
		}
	})

	t.Run("from config with expansion", func(t *testing.T) {
		clearKeyEnv(t)
		t.Setenv("MY_KEY", "sk-ant-expanded")

		key, src, err := ResolveAPIKey(&Config{Anthropic: AnthropicConfig{APIKey: "${MY_KEY}"}})
		if err != nil || key != "sk-ant-expanded" || src != KeySourceConfig {
			t.Errorf("got (%q, %q, %v)", key, src, err)
		}
	})

	t.Run("bedrock needs no key", func(t *testing.T) {
		clearKeyEnv(t)
		_, src, err := ResolveAPIKey(&Config{Anthropic: AnthropicConfig{UseBedrock: true}})
		if err != nil || src != KeySourceBedrock {
			t.Errorf("got (%q, %v)", src, err)
		}
	})

	t.Run("no key configured", func(t *testing.T) {
		clearKeyEnv(t)
		_, src, err := ResolveAPIKey(&Config{})
		if err != ErrNoAPIKey || src != KeySourceNone {
			t.Errorf("got (%q, %v), want ErrNoAPIKey", src, err)
		}
	})
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "sk-ant-REDACTED", false},
		{"empty key", "", true},
		{"wrong prefix", "sk-other-abcdefghijklmnop", true},
		{"too short", "sk-ant-abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...mnop"},
	}
	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
