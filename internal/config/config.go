// Package config provides the configuration structure for the speech-service.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// envProjectTOML selects the TOML file the configurator loads. When it is
// unset the service runs on built-in defaults, so a bare environment is
// enough to start.
const envProjectTOML = "PROJECT_TOML"

// Built-in defaults.
const (
	defaultModelsDir        = "models"
	defaultVoiceModelsDir   = "models/piper"
	defaultOutputDir        = "."
	defaultPiperBinary      = "piper"
	defaultNATSURL          = "nats://127.0.0.1:4222"
	defaultNATSSubject      = "speech.requests"
	defaultNATSObjectBucket = "SPEECH_AUDIO"
)

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir    string `toml:"base_logs_dir"`
	ModelsDir      string `toml:"models_dir"`
	VoiceModelsDir string `toml:"voice_models_dir"`
	OutputDir      string `toml:"output_dir"`
}

// SpeechConfig holds the engine-related configuration.
type SpeechConfig struct {
	PiperBinary      string `toml:"piper_binary"`
	RecognitionModel string `toml:"recognition_model"`
}

// NATSConfig holds the configuration for the optional NATS transport.
type NATSConfig struct {
	URL                    string `toml:"url"`
	Subject                string `toml:"subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// Config is the root configuration structure.
type Config struct {
	Paths  PathsConfig  `toml:"paths"`
	Speech SpeechConfig `toml:"speech"`
	NATS   NATSConfig   `toml:"nats"`
}

// Default returns the built-in configuration used when no TOML is supplied.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			BaseLogsDir:    filepath.Join(os.TempDir(), "speech-service-logs"),
			ModelsDir:      defaultModelsDir,
			VoiceModelsDir: defaultVoiceModelsDir,
			OutputDir:      defaultOutputDir,
		},
		Speech: SpeechConfig{
			PiperBinary:      defaultPiperBinary,
			RecognitionModel: "",
		},
		NATS: NATSConfig{
			URL:                    defaultNATSURL,
			Subject:                defaultNATSSubject,
			AudioObjectStoreBucket: defaultNATSObjectBucket,
		},
	}
}

// Load loads the configuration for the speech-service, overlaying the
// central configurator's TOML on the built-in defaults when PROJECT_TOML is
// set.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	if os.Getenv(envProjectTOML) == "" {
		log.Info("%s not set; using built-in configuration defaults", envProjectTOML)

		return &cfg, nil
	}

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.fillMissing()

	return &cfg, nil
}

// fillMissing backfills fields the TOML left empty with built-in defaults.
func (c *Config) fillMissing() {
	defaults := Default()

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = defaults.Paths.BaseLogsDir
	}

	if c.Paths.ModelsDir == "" {
		c.Paths.ModelsDir = defaults.Paths.ModelsDir
	}

	if c.Paths.VoiceModelsDir == "" {
		c.Paths.VoiceModelsDir = defaults.Paths.VoiceModelsDir
	}

	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = defaults.Paths.OutputDir
	}

	if c.Speech.PiperBinary == "" {
		c.Speech.PiperBinary = defaults.Speech.PiperBinary
	}

	if c.NATS.URL == "" {
		c.NATS.URL = defaults.NATS.URL
	}

	if c.NATS.Subject == "" {
		c.NATS.Subject = defaults.NATS.Subject
	}
}
