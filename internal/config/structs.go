package config

import (
	"fmt"

	"github.com/MeKo-Tech/vigil/internal/models"
)

// Config represents the complete configuration for the vigil detection
// service. It supports loading from configuration files, environment
// variables, and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// HTTP server settings
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Detection processing settings
	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing" json:"processing"`

	// Artifact storage settings
	Storage StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`

	// Model weight source settings
	Models ModelsConfig `mapstructure:"models" yaml:"models" json:"models"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ProcessingConfig contains detection pipeline settings.
type ProcessingConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
	MaxImageWidth       int     `mapstructure:"max_image_width" yaml:"max_image_width" json:"max_image_width"`
	MaxImageHeight      int     `mapstructure:"max_image_height" yaml:"max_image_height" json:"max_image_height"`
	FrameSkip           int     `mapstructure:"frame_skip" yaml:"frame_skip" json:"frame_skip"`
	NumThreads          int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// StorageConfig contains artifact and staging directory settings.
type StorageConfig struct {
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir" json:"static_dir"`
	TempDir   string `mapstructure:"temp_dir" yaml:"temp_dir" json:"temp_dir"`
}

// ModelsConfig contains model weight source settings.
type ModelsConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit uint64 `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ModelsDir: models.GetModelsDir(""),
		LogLevel:  "info",
		Verbose:   false,
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      300,
			ShutdownTimeout: 10,
		},
		Processing: ProcessingConfig{
			ConfidenceThreshold: 0.25,
			MaxImageWidth:       1920,
			MaxImageHeight:      1080,
			FrameSkip:           3,
			NumThreads:          0,
		},
		Storage: StorageConfig{
			StaticDir: "static",
			TempDir:   "tmp",
		},
		Models: ModelsConfig{
			BaseURL: "",
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: 0,
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("invalid max upload size: %dMB", c.Server.MaxUploadMB)
	}
	if c.Processing.ConfidenceThreshold < 0 || c.Processing.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid confidence threshold: %g (must be in [0, 1])", c.Processing.ConfidenceThreshold)
	}
	if c.Processing.MaxImageWidth < 1 || c.Processing.MaxImageHeight < 1 {
		return fmt.Errorf("invalid max image dimensions: %dx%d",
			c.Processing.MaxImageWidth, c.Processing.MaxImageHeight)
	}
	if c.Processing.FrameSkip < 1 {
		return fmt.Errorf("invalid frame skip: %d (must be >= 1)", c.Processing.FrameSkip)
	}
	if c.GPU.Device < 0 {
		return fmt.Errorf("invalid GPU device: %d", c.GPU.Device)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}
