package native

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/go-qwen-tts/internal/model"
	"github.com/example/go-qwen-tts/internal/safetensors"
)

const (
	talkerPrefix = "talker."
	codecPrefix  = "code2wav."
)

// Model bundles the loaded talker and, when the checkpoint ships one, the
// codec decoder.
type Model struct {
	Config *model.Config
	Talker *Talker
	Codec  *CodecDecoder
}

// LoadModel reads config.json and model.safetensors from a model directory.
// The checkpoint file holds both halves under the "talker." and "code2wav."
// prefixes; the codec half is optional.
func LoadModel(dir model.Dir) (*Model, error) {
	cfg, err := model.LoadConfig(dir.ConfigPath())
	if err != nil {
		return nil, err
	}

	return LoadModelWithConfig(dir, cfg)
}

// LoadModelWithConfig loads the weights for an already parsed config.
func LoadModelWithConfig(dir model.Dir, cfg *model.Config) (*Model, error) {
	if cfg == nil {
		return nil, errors.New("native: config is nil")
	}

	data, err := os.ReadFile(dir.WeightsPath())
	if err != nil {
		return nil, fmt.Errorf("native: read weights: %w", err)
	}

	return loadModelFromBytes(data, cfg)
}

func loadModelFromBytes(data []byte, cfg *model.Config) (*Model, error) {
	// The checkpoint inventory decides which halves exist, so the prefix
	// check runs on the unmapped names before any stripping.
	full, err := safetensors.OpenStoreFromBytes(data, safetensors.StoreOptions{})
	if err != nil {
		return nil, fmt.Errorf("native: open weights: %w", err)
	}

	if !full.HasPrefix(talkerPrefix) {
		return nil, fmt.Errorf("native: checkpoint has no tensors under %q", talkerPrefix)
	}

	talkerStore, err := safetensors.OpenStoreFromBytes(data, safetensors.StoreOptions{
		KeyMapper: safetensors.PrefixStripper(talkerPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("native: open talker weights: %w", err)
	}

	talker, err := LoadTalker(NewVarBuilder(talkerStore), cfg.Talker)
	if err != nil {
		return nil, err
	}

	var codec *CodecDecoder

	if full.HasPrefix(codecPrefix) {
		if cfg.Codec == nil {
			return nil, fmt.Errorf("native: checkpoint ships %q tensors but config has no code2wav section", codecPrefix)
		}

		codecStore, err := safetensors.OpenStoreFromBytes(data, safetensors.StoreOptions{
			KeyMapper: safetensors.PrefixStripper(codecPrefix),
		})
		if err != nil {
			return nil, fmt.Errorf("native: open codec weights: %w", err)
		}

		codec, err = LoadCodecDecoder(NewVarBuilder(codecStore), *cfg.Codec,
			cfg.Talker.NumCodebooks, cfg.Talker.SemanticCodebooks)
		if err != nil {
			return nil, err
		}
	}

	return &Model{Config: cfg, Talker: talker, Codec: codec}, nil
}
