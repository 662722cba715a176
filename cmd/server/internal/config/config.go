// Package config loads engine configuration. Runtime knobs come from
// environment variables; the provider fallback order and agent roster live in
// an optional YAML engine file referenced by ENGINE_CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Engine   EngineConfig
	Speech   SpeechConfig
	Platform PlatformConfig
	Audit    AuditConfig
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Env  string // dev, staging, production
	Port string
}

// LogConfig holds structured-logging settings.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // console, json
	File   string // empty means stdout only
}

// EngineConfig tunes the meeting orchestrator.
type EngineConfig struct {
	MaxConcurrentMeetings int
	JoinGrace             time.Duration
	SchedulerTick         time.Duration
	ScheduleGrace         time.Duration
	DefaultProvider       string
	ConfigFile            string // YAML engine file, optional
}

// SpeechConfig holds the speech provider endpoints and credentials. A provider
// with an empty endpoint is not wired in.
type SpeechConfig struct {
	AzureEndpoint   string
	AzureAPIKey     string
	GoogleEndpoint  string
	GoogleModel     string
	WhisperEndpoint string
	WhisperModel    string
	HealthInterval  time.Duration
	FailThreshold   int
}

// PlatformConfig holds the bot gateway endpoints for real meeting platforms.
// Empty endpoints leave only the simulated platform registered.
type PlatformConfig struct {
	TeamsGatewayURL string
	MeetGatewayURL  string
}

// AuditConfig holds the state-transition audit log settings.
type AuditConfig struct {
	LogFile string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Env:  getEnv("ENV", "dev"),
			Port: getEnv("PORT", "8000"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
			File:   getEnv("LOG_FILE", ""),
		},
		Engine: EngineConfig{
			MaxConcurrentMeetings: getEnvInt("MAX_CONCURRENT_MEETINGS", 10),
			JoinGrace:             getEnvDuration("JOIN_GRACE", 30*time.Second),
			SchedulerTick:         getEnvDuration("SCHEDULER_TICK", time.Second),
			ScheduleGrace:         getEnvDuration("SCHEDULE_GRACE", 5*time.Minute),
			DefaultProvider:       getEnv("DEFAULT_SPEECH_PROVIDER", ""),
			ConfigFile:            getEnv("ENGINE_CONFIG_FILE", ""),
		},
		Speech: SpeechConfig{
			AzureEndpoint:   getEnv("AZURE_SPEECH_ENDPOINT", ""),
			AzureAPIKey:     getEnv("AZURE_SPEECH_KEY", ""),
			GoogleEndpoint:  getEnv("GOOGLE_SPEECH_ENDPOINT", ""),
			GoogleModel:     getEnv("GOOGLE_SPEECH_MODEL", ""),
			WhisperEndpoint: getEnv("WHISPER_API_URL", "http://localhost:8080"),
			WhisperModel:    getEnv("WHISPER_MODEL", ""),
			HealthInterval:  getEnvDuration("SPEECH_HEALTH_INTERVAL", 30*time.Second),
			FailThreshold:   getEnvInt("SPEECH_FAIL_THRESHOLD", 3),
		},
		Platform: PlatformConfig{
			TeamsGatewayURL: getEnv("TEAMS_GATEWAY_URL", ""),
			MeetGatewayURL:  getEnv("MEET_GATEWAY_URL", ""),
		},
		Audit: AuditConfig{
			LogFile: getEnv("AUDIT_LOG_FILE", "./audit_logs/transitions.log"),
		},
	}
	return cfg, nil
}

// Validate checks the loaded configuration and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", c.Server.Port))
	}

	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[c.Server.Env] {
		problems = append(problems, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", c.Server.Env))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		problems = append(problems, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", c.Log.Level))
	}

	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[c.Log.Format] {
		problems = append(problems, fmt.Sprintf("invalid LOG_FORMAT: %s (must be: console, json)", c.Log.Format))
	}

	if c.Engine.MaxConcurrentMeetings < 1 {
		problems = append(problems, fmt.Sprintf("MAX_CONCURRENT_MEETINGS must be at least 1, got %d", c.Engine.MaxConcurrentMeetings))
	}

	if c.Speech.AzureEndpoint != "" && c.Speech.AzureAPIKey == "" {
		problems = append(problems, "AZURE_SPEECH_KEY is required when AZURE_SPEECH_ENDPOINT is set")
	}

	if c.Server.Env == "production" && c.Speech.AzureEndpoint == "" &&
		c.Speech.GoogleEndpoint == "" && c.Speech.WhisperEndpoint == "" {
		problems = append(problems, "at least one speech provider endpoint is required in production")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetServerAddr returns the HTTP listen address.
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// PrintConfig renders the configuration with secrets masked.
func (c *Config) PrintConfig() string {
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %s
  Logging:
    - Level: %s
    - Format: %s
  Engine:
    - Max Concurrent Meetings: %d
    - Join Grace: %s
    - Default Provider: %s
    - Engine File: %s
  Speech:
    - Azure: %s (key: %s)
    - Google: %s
    - Whisper: %s
  Platforms:
    - Teams Gateway: %s
    - Meet Gateway: %s
  Audit Log: %s`,
		c.Server.Env,
		c.Server.Port,
		c.Log.Level,
		c.Log.Format,
		c.Engine.MaxConcurrentMeetings,
		c.Engine.JoinGrace,
		orDefault(c.Engine.DefaultProvider, "<first configured>"),
		orDefault(c.Engine.ConfigFile, "<not set>"),
		orDefault(c.Speech.AzureEndpoint, "<not set>"),
		maskSecret(c.Speech.AzureAPIKey),
		orDefault(c.Speech.GoogleEndpoint, "<not set>"),
		orDefault(c.Speech.WhisperEndpoint, "<not set>"),
		orDefault(c.Platform.TeamsGatewayURL, "<not set>"),
		orDefault(c.Platform.MeetGatewayURL, "<not set>"),
		c.Audit.LogFile,
	)
}

// getEnv returns the environment variable or a default when unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable, falling back on the
// default for unset or malformed values.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvDuration parses a Go duration environment variable (e.g. "45s").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// maskSecret hides a credential in log output.
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
