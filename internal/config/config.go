package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/jscyril/golang_clip_player/internal/media"
)

// Config holds application configuration
type Config struct {
	RefreshHz int    `json:"refresh_hz"`
	LogLevel  string `json:"log_level"`
	LogFile   string `json:"log_file"`

	SampleRate         int     `json:"sample_rate"`
	SpeakerBufferMs    int     `json:"speaker_buffer_ms"`
	VideoQueueFrames   int     `json:"video_queue_frames"`
	AudioQueueSeconds  float64 `json:"audio_queue_seconds"`
	VideoPacketBacklog int     `json:"video_packet_backlog"`
	AudioPacketBacklog int     `json:"audio_packet_backlog"`
	Tolerance          float64 `json:"tolerance"`

	OutputWidth  int `json:"output_width"`
	OutputHeight int `json:"output_height"`

	SeekStep    float64 `json:"seek_step"`
	DefaultGain float64 `json:"default_gain"`
	ExportDir   string  `json:"export_dir"`

	KeyBindings KeyMap `json:"key_bindings"`
}

// KeyMap defines keyboard shortcuts
type KeyMap struct {
	PlayPause   string `json:"play_pause"`
	Stop        string `json:"stop"`
	SeekForward string `json:"seek_forward"`
	SeekBack    string `json:"seek_back"`
	NextKey     string `json:"next_key"`
	PrevKey     string `json:"prev_key"`
	GainUp      string `json:"gain_up"`
	GainDown    string `json:"gain_down"`
	MarkIn      string `json:"mark_in"`
	MarkOut     string `json:"mark_out"`
	Export      string `json:"export"`
	Quit        string `json:"quit"`
}

// GetDefaultConfig returns default configuration
func GetDefaultConfig() *Config {
	return &Config{
		RefreshHz:          30,
		LogLevel:           "info",
		LogFile:            filepath.Join(os.TempDir(), "clipper.log"),
		SampleRate:         48000,
		SpeakerBufferMs:    50,
		VideoQueueFrames:   media.DefaultVideoQueueFrames,
		AudioQueueSeconds:  media.DefaultAudioQueueSeconds,
		VideoPacketBacklog: media.DefaultVideoPacketBacklog,
		AudioPacketBacklog: media.DefaultAudioPacketBacklog,
		Tolerance:          0.3,
		OutputWidth:        160,
		OutputHeight:       90,
		SeekStep:           5,
		DefaultGain:        1.0,
		ExportDir:          ".",
		KeyBindings: KeyMap{
			PlayPause:   " ",
			Stop:        "s",
			SeekForward: "right",
			SeekBack:    "left",
			NextKey:     ".",
			PrevKey:     ",",
			GainUp:      "+",
			GainDown:    "-",
			MarkIn:      "[",
			MarkOut:     "]",
			Export:      "e",
			Quit:        "q",
		},
	}
}

// LoadConfig reads and unmarshals configuration from file. Fields missing
// from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	config := GetDefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return config, nil
}

// SaveConfig marshals and saves configuration to file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadOrCreate loads config from path or creates default if not exists
func LoadOrCreate(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Save default config if file didn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := SaveConfig(config, path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	}

	return config, nil
}

// Load reads an optional .env file, then the config file, then applies
// environment overrides.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	config, err := LoadOrCreate(GetConfigPath())
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides fields from CLIPPER_* variables. DEBUG forces debug
// logging.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("CLIPPER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if os.Getenv("DEBUG") != "" {
		c.LogLevel = "debug"
	}
	if v := os.Getenv("CLIPPER_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("CLIPPER_SAMPLE_RATE"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return fmt.Errorf("CLIPPER_SAMPLE_RATE: invalid rate %q", v)
		}
		c.SampleRate = rate
	}
	if v := os.Getenv("CLIPPER_EXPORT_DIR"); v != "" {
		c.ExportDir = v
	}
	return c.Validate()
}

// Validate rejects values the player cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.RefreshHz <= 0 || c.RefreshHz > 240:
		return fmt.Errorf("refresh_hz must be in (0, 240], got %d", c.RefreshHz)
	case c.SampleRate <= 0:
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	case c.Tolerance <= 0:
		return fmt.Errorf("tolerance must be positive, got %v", c.Tolerance)
	case c.DefaultGain < 0:
		return fmt.Errorf("default_gain must not be negative, got %v", c.DefaultGain)
	case c.SeekStep <= 0:
		return fmt.Errorf("seek_step must be positive, got %v", c.SeekStep)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log_level string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
	}
}

// GetConfigPath returns the default config file path
func GetConfigPath() string {
	// Check environment variable first
	if path := os.Getenv("CLIPPER_CONFIG"); path != "" {
		return path
	}

	// Use XDG config directory if available
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "clipper", "config.json")
	}

	// Fall back to home directory
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}

	return filepath.Join(home, ".config", "clipper", "config.json")
}
