// Package config loads livenotes settings from a YAML file, the
// environment and an optional .env file.
package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"livenotes/capture"
	"livenotes/log"
	"livenotes/segment"
	"livenotes/transcriber"
)

const (
	envPrefix  = "LIVENOTES"
	configName = "livenotes"
)

type Config struct {
	Mode           string `mapstructure:"mode"`
	Provider       string `mapstructure:"provider"`
	StreamProvider string `mapstructure:"stream_provider"`

	// APIKey overrides the provider-specific keys below.
	APIKey       string `mapstructure:"api_key"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`

	URL             string `mapstructure:"url"`
	Model           string `mapstructure:"model"`
	TranscribeModel string `mapstructure:"transcribe_model"`
	Instruction     string `mapstructure:"instruction"`

	Source         string        `mapstructure:"source"`
	Interval       time.Duration `mapstructure:"interval"`
	Duration       time.Duration `mapstructure:"duration"`
	Format         string        `mapstructure:"format"`
	FrameSamples   int           `mapstructure:"frame_samples"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`

	SilenceAutoStop time.Duration `mapstructure:"silence_auto_stop"`

	LogPath string `mapstructure:"log_path"`
	Out     string `mapstructure:"out"`
}

func Default() *Config {
	return &Config{
		Mode:           string(capture.ModeBatch),
		Provider:       "gemini",
		StreamProvider: "gemini-live",
		Interval:       6 * time.Second,
		Duration:       4 * time.Second,
		Format:         "flac",
		FrameSamples:   segment.DefaultFrameSamples,
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  1,
		RetryBackoff:   time.Second,
	}
}

// Load reads cfgFile, or livenotes.yaml from the user config directory or
// the working directory when cfgFile is empty. A missing default file is not
// an error. Values from a .env file in the working directory are exported
// first; LIVENOTES_* variables override the file, and flags in fs that the
// user set override everything. A flag binds to the key of the same name
// with dashes for underscores.
func Load(cfgFile string, fs *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("config: .env: %v", err)
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		if dir := configDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	setDefaults(v, Default())
	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.BindEnv("gemini_api_key", envPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	v.BindEnv("openai_api_key", envPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")

	if fs != nil {
		for _, key := range v.AllKeys() {
			if f := fs.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	} else {
		log.Info("config: " + v.ConfigFileUsed())
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// the config file does not mention.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("mode", d.Mode)
	v.SetDefault("provider", d.Provider)
	v.SetDefault("stream_provider", d.StreamProvider)
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("url", d.URL)
	v.SetDefault("model", d.Model)
	v.SetDefault("transcribe_model", d.TranscribeModel)
	v.SetDefault("instruction", d.Instruction)
	v.SetDefault("source", d.Source)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("duration", d.Duration)
	v.SetDefault("format", d.Format)
	v.SetDefault("frame_samples", d.FrameSamples)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("retry_attempts", d.RetryAttempts)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("silence_auto_stop", d.SilenceAutoStop)
	v.SetDefault("log_path", d.LogPath)
	v.SetDefault("out", d.Out)
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configName)
}

// KeyFor returns the credential for provider: the explicit api_key when
// set, otherwise the provider's well-known variable.
func (c *Config) KeyFor(provider string) string {
	if c.APIKey != "" {
		return c.APIKey
	}
	switch provider {
	case "gemini", "gemini-live", "":
		return c.GeminiAPIKey
	case "openai":
		return c.OpenAIAPIKey
	}
	return ""
}

func (c *Config) StreamMode() bool { return c.Mode == string(capture.ModeStream) }

func (c *Config) SummarizerOptions() transcriber.Options {
	return transcriber.Options{
		Provider:        c.Provider,
		APIKey:          c.KeyFor(c.Provider),
		URL:             c.URL,
		Model:           c.Model,
		TranscribeModel: c.TranscribeModel,
		Instruction:     c.Instruction,
		RetryAttempts:   c.RetryAttempts,
		RetryBackoff:    c.RetryBackoff,
	}
}

func (c *Config) StreamerOptions() transcriber.Options {
	return transcriber.Options{
		Provider:    c.StreamProvider,
		APIKey:      c.KeyFor(c.StreamProvider),
		URL:         c.URL,
		Model:       c.Model,
		Instruction: c.Instruction,
	}
}

// ActiveProvider is the backend the configured mode will use.
func (c *Config) ActiveProvider() string {
	if c.StreamMode() {
		return c.StreamProvider
	}
	return c.Provider
}

func (c *Config) CaptureConfig() capture.Config {
	return capture.Config{
		Mode: capture.Mode(c.Mode),
		Batch: segment.BatchConfig{
			Interval: c.Interval,
			Duration: c.Duration,
			Format:   c.Format,
		},
		FrameSamples:   c.FrameSamples,
		RequestTimeout: c.RequestTimeout,
		Stream: transcriber.StreamConfig{
			Model:       c.Model,
			Instruction: c.Instruction,
		},
		SilenceAutoStop: c.SilenceAutoStop,
	}
}

// Backends builds the transcriber the configured mode needs.
func (c *Config) Backends(ctx context.Context) (capture.Backends, error) {
	if c.StreamMode() {
		st, err := transcriber.NewStreamer(ctx, c.StreamerOptions())
		if err != nil {
			return capture.Backends{}, err
		}
		return capture.Backends{Streamer: st}, nil
	}
	s, err := transcriber.NewSummarizer(ctx, c.SummarizerOptions())
	if err != nil {
		return capture.Backends{}, err
	}
	return capture.Backends{Summarizer: s}, nil
}
