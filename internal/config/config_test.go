package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MODEL_NAME", "")

	cfg := Load()

	assert.Equal(t, 1919, cfg.HTTPPort)
	assert.Equal(t, 1920, cfg.RPCPort)
	assert.Equal(t, ":memory:", cfg.DatabaseURL)
	assert.Equal(t, "jpeg", cfg.ScreencastFormat)
	assert.Equal(t, 100, cfg.ScreencastQuality)
	assert.Equal(t, DefaultModel, cfg.ModelName)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "3000")
	t.Setenv("BROWSER_HEADLESS", "true")
	t.Setenv("CAPABILITY_TIMEOUT_MS", "500")
	t.Setenv("SCREENCAST_QUALITY", "not-a-number")

	cfg := Load()

	assert.Equal(t, 3000, cfg.HTTPPort)
	assert.True(t, cfg.BrowserHeadless)
	assert.Equal(t, 500*time.Millisecond, cfg.CapabilityTimeout)
	assert.Equal(t, 100, cfg.ScreencastQuality)
}

func TestValidateModel(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		wantWarns int
	}{
		{"openai with key", Config{ModelName: "gpt-4o", OpenAIAPIKey: "sk"}, false, 0},
		{"openai without key", Config{ModelName: "gpt-4o", AnthropicAPIKey: "ak"}, true, 0},
		{"anthropic with key", Config{ModelName: "claude-3-5-sonnet-latest", AnthropicAPIKey: "ak"}, false, 0},
		{"anthropic without key", Config{ModelName: "claude-3-5-sonnet-latest", OpenAIAPIKey: "sk"}, true, 0},
		{"mini warns", Config{ModelName: "gpt-4o-mini", OpenAIAPIKey: "sk"}, false, 1},
		{"mock needs no key", Config{ModelName: "gpt-4o", Mode: "MOCK"}, false, 0},
		{"unknown model", Config{ModelName: "gpt-2", OpenAIAPIKey: "sk"}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warns, err := tt.cfg.ValidateModel()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, warns, tt.wantWarns)
		})
	}
}
