// Package config loads CLI/env/file configuration for the qwentts binary.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths PathsConfig `mapstructure:"paths"`
	Model ModelConfig `mapstructure:"model"`
	TTS   TTSConfig   `mapstructure:"tts"`
	Audio AudioConfig `mapstructure:"audio"`
}

type PathsConfig struct {
	ModelDir string `mapstructure:"model_dir"`
}

type ModelConfig struct {
	Repo    string `mapstructure:"repo"`
	HFToken string `mapstructure:"hf_token"`
}

type TTSConfig struct {
	Voice       string  `mapstructure:"voice"`
	Language    string  `mapstructure:"language"`
	MaxFrames   int64   `mapstructure:"max_frames"`
	Temperature float64 `mapstructure:"temperature"`
	Seed        int64   `mapstructure:"seed"`
}

type AudioConfig struct {
	Normalize bool    `mapstructure:"normalize"`
	DCBlock   bool    `mapstructure:"dc_block"`
	FadeMs    float64 `mapstructure:"fade_ms"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir: "models/qwen3-tts",
		},
		Model: ModelConfig{
			Repo: "Qwen/Qwen3-TTS-12Hz-1.7B",
		},
		TTS: TTSConfig{
			Voice:       "",
			Language:    "",
			MaxFrames:   0,
			Temperature: 0,
			Seed:        0,
		},
		Audio: AudioConfig{
			Normalize: false,
			DCBlock:   false,
			FadeMs:    0,
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-dir", defaults.Paths.ModelDir, "Local model directory")
	fs.String("model-repo", defaults.Model.Repo, "Hugging Face repository to download weights from")
	fs.String("model-hf-token", defaults.Model.HFToken, "Hugging Face token for gated repositories")
	fs.String("tts-voice", defaults.TTS.Voice, "Voice name from the model's voice catalog")
	fs.String("tts-language", defaults.TTS.Language, "Language name from the model config")
	fs.Int64("tts-max-frames", defaults.TTS.MaxFrames, "Frame budget per generation (0 = context limit)")
	fs.Float64("tts-temperature", defaults.TTS.Temperature, "Sampling temperature (0 = greedy)")
	fs.Int64("tts-seed", defaults.TTS.Seed, "Sampling seed when temperature > 0")
	fs.Bool("audio-normalize", defaults.Audio.Normalize, "Peak-normalize output audio")
	fs.Bool("audio-dc-block", defaults.Audio.DCBlock, "Remove DC offset from output audio")
	fs.Float64("audio-fade-ms", defaults.Audio.FadeMs, "Linear fade in/out duration in milliseconds")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	registerAliases(v)

	v.SetEnvPrefix("QWENTTS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_", "__", "_"))

	if err := v.BindEnv("model.hf_token", "QWENTTS_HF_TOKEN", "HF_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind token env vars: %w", err)
	}

	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("qwentts")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("model.repo", c.Model.Repo)
	v.SetDefault("model.hf_token", c.Model.HFToken)
	v.SetDefault("tts.voice", c.TTS.Voice)
	v.SetDefault("tts.language", c.TTS.Language)
	v.SetDefault("tts.max_frames", c.TTS.MaxFrames)
	v.SetDefault("tts.temperature", c.TTS.Temperature)
	v.SetDefault("tts.seed", c.TTS.Seed)
	v.SetDefault("audio.normalize", c.Audio.Normalize)
	v.SetDefault("audio.dc_block", c.Audio.DCBlock)
	v.SetDefault("audio.fade_ms", c.Audio.FadeMs)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.model_dir", "paths-model-dir")
	v.RegisterAlias("model.repo", "model-repo")
	v.RegisterAlias("model.hf_token", "model-hf-token")
	v.RegisterAlias("tts.voice", "tts-voice")
	v.RegisterAlias("tts.language", "tts-language")
	v.RegisterAlias("tts.max_frames", "tts-max-frames")
	v.RegisterAlias("tts.temperature", "tts-temperature")
	v.RegisterAlias("tts.seed", "tts-seed")
	v.RegisterAlias("audio.normalize", "audio-normalize")
	v.RegisterAlias("audio.dc_block", "audio-dc-block")
	v.RegisterAlias("audio.fade_ms", "audio-fade-ms")
}
