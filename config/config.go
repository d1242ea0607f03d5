package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Recognizer RecognizerConfig `mapstructure:"recognizer"`
	Gallery    GalleryConfig    `mapstructure:"gallery"`
	Camera     CameraConfig     `mapstructure:"camera"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DataDir  string `mapstructure:"data_dir"`
	Timezone string `mapstructure:"timezone"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds database settings.
type DBConfig struct {
	File string `mapstructure:"file"` // Path to the SQLite database file
}

// MatchMode selects how a probe is matched against the gallery.
type MatchMode string

const (
	// ModeGallery ranks the whole gallery and takes the top match.
	ModeGallery MatchMode = "gallery"
	// ModePairwise verifies the probe against one reference at a time,
	// first verified reference wins.
	ModePairwise MatchMode = "pairwise"
)

// RecognizerConfig holds settings for the face recognition backend.
type RecognizerConfig struct {
	URL                 string    `mapstructure:"url"`
	RecognitionAPIKey   string    `mapstructure:"recognition_api_key"`
	VerificationAPIKey  string    `mapstructure:"verification_api_key"`
	Mode                MatchMode `mapstructure:"mode"`
	DetProbThreshold    float64   `mapstructure:"det_prob_threshold"`
	SimilarityThreshold float64   `mapstructure:"similarity_threshold"`
	VerifyThreshold     float64   `mapstructure:"verify_threshold"`
	TimeoutSeconds      int       `mapstructure:"timeout_seconds"`
	SyncOnEnroll        bool      `mapstructure:"sync_on_enroll"`
}

// Timeout returns the per-call recognizer timeout.
func (c RecognizerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GalleryConfig holds settings for the reference image gallery.
type GalleryConfig struct {
	Dir string `mapstructure:"dir"`
}

// CameraConfig holds settings for the local camera source.
type CameraConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Device  int  `mapstructure:"device"`
	FPS     int  `mapstructure:"fps"`
}

// MQTTConfig holds settings for the MQTT publisher.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// CleanupConfig holds settings for automatic probe event cleanup.
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// Load reads the configuration from file, environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Environment variables overlay the file values
	v.AutomaticEnv()
	v.SetEnvPrefix("ATTEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Recognizer.Mode != ModeGallery && cfg.Recognizer.Mode != ModePairwise {
		return nil, fmt.Errorf("invalid recognizer mode %q (expected %q or %q)",
			cfg.Recognizer.Mode, ModeGallery, ModePairwise)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.timezone", "UTC")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/attendance.log")

	// DB defaults
	v.SetDefault("db.file", "/data/attendance.db")

	// Recognizer defaults
	v.SetDefault("recognizer.mode", string(ModeGallery))
	v.SetDefault("recognizer.det_prob_threshold", 0.8)
	// 0 keeps the backend's own detection gate as the only filter.
	v.SetDefault("recognizer.similarity_threshold", 0.0)
	v.SetDefault("recognizer.verify_threshold", 0.0)
	v.SetDefault("recognizer.timeout_seconds", 30)
	v.SetDefault("recognizer.sync_on_enroll", true)

	// Gallery defaults
	v.SetDefault("gallery.dir", "/data/known_faces")

	// Camera defaults
	v.SetDefault("camera.enabled", false)
	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.fps", 10)

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "attendance-go")
	v.SetDefault("mqtt.topic", "attendance/events")

	// Cleanup defaults
	v.SetDefault("cleanup.retention_days", 30)
}

// ensureDirectories makes sure all directories the server writes to exist.
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Gallery.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create gallery directory: %w", err)
	}

	logDir := filepath.Dir(cfg.Log.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
