// Package config loads interview settings from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"jobm8/live"
)

type Config struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key" validate:"required"`
	Model             string `mapstructure:"model" validate:"required"`
	Voice             string `mapstructure:"voice" validate:"required"`
	Language          string `mapstructure:"language" validate:"omitempty,bcp47_language_tag"`
	Endpoint          string `mapstructure:"endpoint" validate:"omitempty,url"`
	APIVersion        string `mapstructure:"api_version" validate:"oneof=v1alpha v1beta"`
	CaptureSampleRate int    `mapstructure:"capture_sample_rate" validate:"oneof=16000 24000 32000 44100 48000"`
	FrameMs           int    `mapstructure:"frame_ms" validate:"min=10,max=100"`
	MuteRampMs        int    `mapstructure:"mute_ramp_ms" validate:"min=0,max=1000"`
	RecordDir         string `mapstructure:"record_dir"`
	LogPath           string `mapstructure:"log_path"`
}

func setDefault(v *viper.Viper) {
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("MODEL", live.DefaultModel)
	v.SetDefault("VOICE", live.DefaultVoice)
	v.SetDefault("LANGUAGE", "en-US")
	v.SetDefault("ENDPOINT", "")
	v.SetDefault("API_VERSION", live.DefaultAPIVersion)
	v.SetDefault("CAPTURE_SAMPLE_RATE", 16000)
	v.SetDefault("FRAME_MS", 100)
	v.SetDefault("MUTE_RAMP_MS", 40)
	v.SetDefault("RECORD_DIR", defaultRecordDir())
	v.SetDefault("LOG_PATH", "")
}

func defaultRecordDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recordings"
	}
	return filepath.Join(home, "jobm8", "recordings")
}

// Load reads JOBM8_* environment variables (GEMINI_API_KEY is also
// accepted unprefixed) and, when path is non-empty, a YAML file whose
// values sit below the environment. The result is not validated; callers
// apply flag overrides first and then call Validate.
func Load(path string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	setDefault(v)

	v.SetEnvPrefix("JOBM8")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("gemini_api_key", "JOBM8_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// FrameSamples is the capture frame size in samples.
func (c *Config) FrameSamples() int {
	return c.CaptureSampleRate * c.FrameMs / 1000
}

func (c *Config) MuteRamp() time.Duration {
	return time.Duration(c.MuteRampMs) * time.Millisecond
}

// LiveEndpoint is the explicit endpoint or the one derived from APIVersion.
func (c *Config) LiveEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return live.Endpoint(c.APIVersion)
}
