package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all service configuration
type Config struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	GeminiAPIKey        string `yaml:"-"`
	Model               string `yaml:"model"`
	Voice               string `yaml:"voice"`
	SystemPrompt        string `yaml:"system_prompt"`
	InputTranscription  bool   `yaml:"input_transcription"`
	OutputTranscription bool   `yaml:"output_transcription"`

	TranscriptLimit  int           `yaml:"transcript_limit"`
	FrameSize        int           `yaml:"frame_size"`
	SendQueueSize    int           `yaml:"send_queue_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	StallTimeout     time.Duration `yaml:"stall_timeout"`

	RedisURL       string        `yaml:"redis_url"`
	RedisPassword  string        `yaml:"-"`
	SessionTimeout time.Duration `yaml:"session_ttl"`
}

// Voices lists the prebuilt voices the Live API offers.
var Voices = []string{"Puck", "Charon", "Kore", "Fenrir", "Zephyr", "Aoede", "Leda", "Orus"}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:                8080,
		AllowedOrigins:      []string{"*"},
		Model:               "gemini-2.5-flash-native-audio-preview-12-2025",
		Voice:               "Zephyr",
		InputTranscription:  true,
		OutputTranscription: true,
		TranscriptLimit:     11,
		FrameSize:           4096,
		SendQueueSize:       64,
		HandshakeTimeout:    10 * time.Second,
		StallTimeout:        2 * time.Minute,
		RedisURL:            "localhost:6379",
		SessionTimeout:      30 * time.Minute,
	}
}

// LoadConfig loads configuration from an optional YAML file named by
// AURALIVE_CONFIG, then from environment variables, with defaults.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()

	if path := os.Getenv("AURALIVE_CONFIG"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	// Required: GEMINI_API_KEY
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadFile overlays the YAML file at path. Unknown keys are rejected.
func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	// Optional strings
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("GEMINI_VOICE"); v != "" {
		c.Voice = v
	}
	if v := os.Getenv("SYSTEM_PROMPT"); v != "" {
		c.SystemPrompt = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"PORT", &c.Port},
		{"TRANSCRIPT_LIMIT", &c.TranscriptLimit},
		{"FRAME_SIZE", &c.FrameSize},
		{"SEND_QUEUE_SIZE", &c.SendQueueSize},
	}
	for _, e := range ints {
		if v := os.Getenv(e.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", e.name, err)
			}
			*e.dst = n
		}
	}

	durations := []struct {
		name string
		unit time.Duration
		dst  *time.Duration
	}{
		{"SESSION_TTL", time.Minute, &c.SessionTimeout},
		{"HANDSHAKE_TIMEOUT", time.Second, &c.HandshakeTimeout},
		{"STALL_TIMEOUT", time.Second, &c.StallTimeout},
	}
	for _, e := range durations {
		if v := os.Getenv(e.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", e.name, err)
			}
			*e.dst = time.Duration(n) * e.unit
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"INPUT_TRANSCRIPTION", &c.InputTranscription},
		{"OUTPUT_TRANSCRIPTION", &c.OutputTranscription},
	}
	for _, e := range bools {
		if v := os.Getenv(e.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", e.name, err)
			}
			*e.dst = b
		}
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.TranscriptLimit <= 0 {
		return fmt.Errorf("transcript limit must be positive, got %d", c.TranscriptLimit)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send queue size must be positive, got %d", c.SendQueueSize)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake timeout must be positive, got %s", c.HandshakeTimeout)
	}
	if c.StallTimeout < 0 {
		return fmt.Errorf("stall timeout must not be negative, got %s", c.StallTimeout)
	}
	if !knownVoice(c.Voice) {
		return fmt.Errorf("unknown voice %q; valid voices: %s", c.Voice, strings.Join(Voices, ", "))
	}
	return nil
}

func knownVoice(v string) bool {
	for _, known := range Voices {
		if strings.EqualFold(known, v) {
			return true
		}
	}
	return false
}
