package model

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// Config mirrors the config.json shipped next to the checkpoint. Talker is
// required; Codec may be absent, in which case the engine loads without a
// waveform decoder.
type Config struct {
	ModelType string        `json:"model_type"`
	Talker    TalkerConfig  `json:"talker"`
	Codec     *CodecConfig  `json:"code2wav,omitempty"`
	Languages []string      `json:"languages,omitempty"`
	Tokenizer TokenizerInfo `json:"tokenizer,omitempty"`
}

// TalkerConfig describes the autoregressive acoustic-code model.
type TalkerConfig struct {
	HiddenSize        int64   `json:"hidden_size"`
	IntermediateSize  int64   `json:"intermediate_size"`
	NumLayers         int64   `json:"num_hidden_layers"`
	NumHeads          int64   `json:"num_attention_heads"`
	NumKVHeads        int64   `json:"num_key_value_heads"`
	HeadDim           int64   `json:"head_dim"`
	VocabSize         int64   `json:"vocab_size"`
	CodebookSize      int64   `json:"codebook_size"`
	NumCodebooks      int64   `json:"num_codebooks"`
	SemanticCodebooks int64   `json:"num_semantic_codebooks"`
	StopCode          int64   `json:"stop_code"`
	MaxSeqLen         int64   `json:"max_position_embeddings"`
	RopeTheta         float64 `json:"rope_theta"`
	RMSNormEps        float32 `json:"rms_norm_eps"`
	SpeakerEmbedDim   int64   `json:"speaker_embed_dim"`
	NumLanguages      int64   `json:"num_languages"`
}

// CodecConfig describes the RVQ codec decoder that turns codes into samples.
type CodecConfig struct {
	LatentDim        int64   `json:"latent_dim"`
	HiddenSize       int64   `json:"hidden_size"`
	IntermediateSize int64   `json:"intermediate_size"`
	NumLayers        int64   `json:"num_hidden_layers"`
	NumHeads         int64   `json:"num_attention_heads"`
	HeadDim          int64   `json:"head_dim"`
	RMSNormEps       float32 `json:"rms_norm_eps"`
	CodebookSize     int64   `json:"codebook_size"`
	UpsampleRates    []int64 `json:"upsample_rates"`
	LatentHop        int64   `json:"latent_hop"`
	Activation       string  `json:"activation"`
	SampleRate       int     `json:"sample_rate"`
}

// TokenizerInfo names the tokenizer asset inside the model directory.
type TokenizerInfo struct {
	File string `json:"file,omitempty"`
}

// SamplesPerFrame is the number of audio samples one code frame expands to:
// the product of the upsample rates times the latent hop.
func (c *CodecConfig) SamplesPerFrame() int64 {
	total := c.LatentHop
	for _, r := range c.UpsampleRates {
		total *= r
	}

	return total
}

// LoadConfig reads and validates a config.json file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read config %s: %w", path, err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes and validates config bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("model: parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	t := &c.Talker

	if t.HeadDim == 0 && t.NumHeads > 0 {
		t.HeadDim = t.HiddenSize / t.NumHeads
	}

	if t.NumKVHeads == 0 {
		t.NumKVHeads = t.NumHeads
	}

	if t.RopeTheta == 0 {
		t.RopeTheta = 10000
	}

	if t.RMSNormEps == 0 {
		t.RMSNormEps = 1e-6
	}

	if t.MaxSeqLen == 0 {
		t.MaxSeqLen = 4096
	}

	if t.NumCodebooks == 0 {
		t.NumCodebooks = 16
	}

	if t.SemanticCodebooks == 0 {
		t.SemanticCodebooks = 1
	}

	if c.Codec != nil {
		d := c.Codec

		if d.HeadDim == 0 && d.NumHeads > 0 {
			d.HeadDim = d.HiddenSize / d.NumHeads
		}

		if d.RMSNormEps == 0 {
			d.RMSNormEps = 1e-6
		}

		if len(d.UpsampleRates) == 0 {
			d.UpsampleRates = []int64{8, 5, 4, 3}
		}

		if d.LatentHop == 0 {
			d.LatentHop = 4
		}

		if d.Activation == "" {
			d.Activation = "elu"
		}

		if d.SampleRate == 0 {
			d.SampleRate = 24000
		}
	}
}

// Validate checks structural invariants shared by every checkpoint.
func (c *Config) Validate() error {
	t := c.Talker

	switch {
	case t.HiddenSize <= 0:
		return fmt.Errorf("model: talker hidden_size must be > 0, got %d", t.HiddenSize)
	case t.NumLayers <= 0:
		return fmt.Errorf("model: talker num_hidden_layers must be > 0, got %d", t.NumLayers)
	case t.NumHeads <= 0:
		return fmt.Errorf("model: talker num_attention_heads must be > 0, got %d", t.NumHeads)
	case t.NumHeads%t.NumKVHeads != 0:
		return fmt.Errorf("model: talker heads %d not divisible by kv heads %d", t.NumHeads, t.NumKVHeads)
	case t.HeadDim <= 0 || t.HeadDim%2 != 0:
		return fmt.Errorf("model: talker head_dim must be positive and even, got %d", t.HeadDim)
	case t.VocabSize <= 0:
		return fmt.Errorf("model: talker vocab_size must be > 0, got %d", t.VocabSize)
	case t.CodebookSize <= 0:
		return fmt.Errorf("model: talker codebook_size must be > 0, got %d", t.CodebookSize)
	case t.NumCodebooks <= 0:
		return fmt.Errorf("model: talker num_codebooks must be > 0, got %d", t.NumCodebooks)
	case t.SemanticCodebooks <= 0 || t.SemanticCodebooks > t.NumCodebooks:
		return fmt.Errorf("model: talker num_semantic_codebooks %d out of range [1, %d]", t.SemanticCodebooks, t.NumCodebooks)
	case t.StopCode < 0 || t.StopCode >= t.CodebookSize:
		return fmt.Errorf("model: talker stop_code %d out of codebook range %d", t.StopCode, t.CodebookSize)
	}

	if c.Codec != nil {
		d := c.Codec

		switch {
		case d.LatentDim <= 0:
			return fmt.Errorf("model: codec latent_dim must be > 0, got %d", d.LatentDim)
		case d.HiddenSize <= 0:
			return fmt.Errorf("model: codec hidden_size must be > 0, got %d", d.HiddenSize)
		case d.CodebookSize <= 0:
			return fmt.Errorf("model: codec codebook_size must be > 0, got %d", d.CodebookSize)
		case d.LatentHop <= 0:
			return fmt.Errorf("model: codec latent_hop must be > 0, got %d", d.LatentHop)
		case d.SampleRate <= 0:
			return fmt.Errorf("model: codec sample_rate must be > 0, got %d", d.SampleRate)
		}

		for _, r := range d.UpsampleRates {
			if r <= 0 {
				return fmt.Errorf("model: codec upsample rate must be > 0, got %d", r)
			}
		}

		switch d.Activation {
		case "elu", "silu", "snake":
		default:
			return fmt.Errorf("model: codec activation %q not supported (elu, silu, snake)", d.Activation)
		}
	}

	return nil
}
