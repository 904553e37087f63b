// Package config provides configuration for the flyspace engine.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultModel is used when MODEL_NAME is unset.
const DefaultModel = "gpt-4o"

// Models lists the model names the AI bridge accepts.
var Models = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4o-2024-08-06",
	"claude-3-5-sonnet-latest",
	"claude-3-5-sonnet-20241022",
	"claude-3-5-sonnet-20240620",
	"o1-mini",
	"o1-preview",
}

// Config holds the engine configuration.
type Config struct {
	// Server settings
	HTTPPort int
	RPCPort  int

	// Scripts
	ScriptsDir string
	DistDir    string
	GoBin      string

	// Journal
	DatabaseURL string

	// Browser
	BrowserCDPURL     string
	BrowserHeadless   bool
	ChromePath        string
	ScreencastFormat  string
	ScreencastQuality int

	// AI bridge
	Mode            string
	AIBridgeAddr    string
	ModelName       string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Policy
	NavigationPolicyFile string

	// Timeouts
	CapabilityTimeout time.Duration
	WSWriteTimeout    time.Duration
	WSPongTimeout     time.Duration
	WSPingInterval    time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from a .env file, if present, and environment
// variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARN: Failed to load .env: %v", err)
	}

	cfg := &Config{
		HTTPPort:             getEnvInt("HTTP_PORT", 1919),
		RPCPort:              getEnvInt("RPC_PORT", 1920),
		ScriptsDir:           getEnv("SCRIPTS_DIR", "."),
		DistDir:              getEnv("DIST_DIR", ""),
		GoBin:                getEnv("GO_BIN", "go"),
		DatabaseURL:          getEnv("DATABASE_URL", ":memory:"),
		BrowserCDPURL:        getEnv("BROWSER_CDP_URL", ""),
		BrowserHeadless:      getEnvBool("BROWSER_HEADLESS", false),
		ChromePath:           getEnv("CHROME_PATH", ""),
		ScreencastFormat:     getEnv("SCREENCAST_FORMAT", "jpeg"),
		ScreencastQuality:    getEnvInt("SCREENCAST_QUALITY", 100),
		Mode:                 getEnv("FLYSPACE_MODE", ""),
		AIBridgeAddr:         getEnv("AI_BRIDGE_ADDR", "localhost:1921"),
		ModelName:            getEnv("MODEL_NAME", DefaultModel),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:      getEnv("ANTHROPIC_API_KEY", ""),
		NavigationPolicyFile: getEnv("NAVIGATION_POLICY_FILE", ""),
		CapabilityTimeout:    time.Duration(getEnvInt("CAPABILITY_TIMEOUT_MS", 120000)) * time.Millisecond,
		WSWriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		WSPongTimeout:        time.Duration(getEnvInt("WS_PONG_TIMEOUT_MS", 60000)) * time.Millisecond,
		WSPingInterval:       time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// ValidateModel checks that the model is known and that the API key its
// provider needs is set. It returns warnings that do not prevent startup.
// Mock mode needs no provider key.
func (c *Config) ValidateModel() (warnings []string, err error) {
	known := false
	for _, m := range Models {
		if m == c.ModelName {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown model %q, expected one of: %s", c.ModelName, strings.Join(Models, ", "))
	}

	if strings.EqualFold(c.Mode, "MOCK") {
		return nil, nil
	}
	if IsOpenAIModel(c.ModelName) {
		if c.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for model %s", c.ModelName)
		}
	} else if c.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for model %s", c.ModelName)
	}

	if c.ModelName == "gpt-4o-mini" {
		warnings = append(warnings, "gpt-4o-mini is known to be unreliable for browser automation")
	}
	return warnings, nil
}

// IsOpenAIModel reports whether model is served by OpenAI.
func IsOpenAIModel(model string) bool {
	return strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1")
}

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
