package native

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/example/go-qwen-tts/internal/model"
	"github.com/example/go-qwen-tts/internal/safetensors"
)

// fixtureTensors builds deterministic small-magnitude weights so the tiny
// models stay numerically tame across layers.
type fixtureBuilder struct {
	rng     *rand.Rand
	tensors []safetensors.Tensor
}

func newFixtureBuilder(seed int64) *fixtureBuilder {
	return &fixtureBuilder{rng: rand.New(rand.NewSource(seed))}
}

func (b *fixtureBuilder) add(name string, shape ...int64) {
	count := int64(1)
	for _, d := range shape {
		count *= d
	}

	data := make([]float32, count)
	for i := range data {
		data[i] = (b.rng.Float32() - 0.5) * 0.2
	}

	b.tensors = append(b.tensors, safetensors.Tensor{Name: name, Shape: shape, Data: data})
}

func (b *fixtureBuilder) addOnes(name string, size int64) {
	data := make([]float32, size)
	for i := range data {
		data[i] = 1
	}

	b.tensors = append(b.tensors, safetensors.Tensor{Name: name, Shape: []int64{size}, Data: data})
}

func (b *fixtureBuilder) addConst(name string, value float32, shape ...int64) {
	count := int64(1)
	for _, d := range shape {
		count *= d
	}

	data := make([]float32, count)
	for i := range data {
		data[i] = value
	}

	b.tensors = append(b.tensors, safetensors.Tensor{Name: name, Shape: shape, Data: data})
}

func (b *fixtureBuilder) addBlock(prefix string, hidden, intermediate, heads, kvHeads, headDim int64) {
	b.addOnes(prefix+".input_norm.weight", hidden)
	b.addOnes(prefix+".post_attn_norm.weight", hidden)
	b.add(prefix+".attn.q_proj.weight", heads*headDim, hidden)
	b.add(prefix+".attn.q_proj.bias", heads*headDim)
	b.add(prefix+".attn.k_proj.weight", kvHeads*headDim, hidden)
	b.add(prefix+".attn.k_proj.bias", kvHeads*headDim)
	b.add(prefix+".attn.v_proj.weight", kvHeads*headDim, hidden)
	b.add(prefix+".attn.v_proj.bias", kvHeads*headDim)
	b.add(prefix+".attn.o_proj.weight", hidden, heads*headDim)
	b.add(prefix+".mlp.gate_proj.weight", intermediate, hidden)
	b.add(prefix+".mlp.up_proj.weight", intermediate, hidden)
	b.add(prefix+".mlp.down_proj.weight", hidden, intermediate)
}

func talkerFixtureConfig() model.TalkerConfig {
	return model.TalkerConfig{
		HiddenSize:        8,
		IntermediateSize:  16,
		NumLayers:         2,
		NumHeads:          2,
		NumKVHeads:        1,
		HeadDim:           4,
		VocabSize:         16,
		CodebookSize:      8,
		NumCodebooks:      3,
		SemanticCodebooks: 1,
		StopCode:          7,
		MaxSeqLen:         64,
		RopeTheta:         10000,
		RMSNormEps:        1e-6,
		SpeakerEmbedDim:   6,
		NumLanguages:      4,
	}
}

func talkerFixtureTensors(cfg model.TalkerConfig) []safetensors.Tensor {
	b := newFixtureBuilder(42)

	b.add("embed_tokens.weight", cfg.VocabSize, cfg.HiddenSize)
	b.add("code_embed.weight", cfg.NumCodebooks*cfg.CodebookSize, cfg.HiddenSize)
	b.add("speaker_proj.weight", cfg.HiddenSize, cfg.SpeakerEmbedDim)
	b.add("speaker_proj.bias", cfg.HiddenSize)
	b.add("lang_embed.weight", cfg.NumLanguages, cfg.HiddenSize)

	for i := range cfg.NumLayers {
		b.addBlock(fmt.Sprintf("layers.%d", i),
			cfg.HiddenSize, cfg.IntermediateSize, cfg.NumHeads, cfg.NumKVHeads, cfg.HeadDim)
	}

	b.addOnes("norm.weight", cfg.HiddenSize)

	// Zero heads keep greedy decoding on code 0, away from the stop code.
	for g := range cfg.NumCodebooks {
		b.addConst(fmt.Sprintf("code_heads.%d.weight", g), 0, cfg.CodebookSize, cfg.HiddenSize)
	}

	return b.tensors
}

func loadTalkerFixture(t *testing.T) *Talker {
	t.Helper()

	cfg := talkerFixtureConfig()

	data, err := safetensors.EncodeTensors(talkerFixtureTensors(cfg))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	store, err := safetensors.OpenStoreFromBytes(data, safetensors.StoreOptions{})
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}

	talker, err := LoadTalker(NewVarBuilder(store), cfg)
	if err != nil {
		t.Fatalf("load talker: %v", err)
	}

	return talker
}

func codecFixtureConfig() model.CodecConfig {
	return model.CodecConfig{
		LatentDim:        4,
		HiddenSize:       8,
		IntermediateSize: 16,
		NumLayers:        1,
		NumHeads:         2,
		HeadDim:          4,
		RMSNormEps:       1e-6,
		CodebookSize:     8,
		UpsampleRates:    []int64{2, 2},
		LatentHop:        2,
		Activation:       "elu",
		SampleRate:       24000,
	}
}

func codecFixtureTensors(cfg model.CodecConfig, numCodebooks, semantic int64, snake bool) []safetensors.Tensor {
	b := newFixtureBuilder(7)

	b.add("semantic_embed.weight", cfg.CodebookSize, cfg.HiddenSize)
	b.add("semantic_proj.weight", cfg.HiddenSize, cfg.HiddenSize)
	b.add("semantic_proj.bias", cfg.HiddenSize)

	for g := range numCodebooks - semantic {
		b.add(fmt.Sprintf("acoustic_embed.%d.weight", g), cfg.CodebookSize, cfg.HiddenSize)
	}

	b.add("acoustic_proj.weight", cfg.HiddenSize, cfg.HiddenSize)
	b.add("acoustic_proj.bias", cfg.HiddenSize)

	for i := range cfg.NumLayers {
		b.addBlock(fmt.Sprintf("layers.%d", i),
			cfg.HiddenSize, cfg.IntermediateSize, cfg.NumHeads, cfg.NumHeads, cfg.HeadDim)
	}

	b.addOnes("norm.weight", cfg.HiddenSize)
	b.add("latent_proj.weight", cfg.LatentDim, cfg.HiddenSize)
	b.add("latent_proj.bias", cfg.LatentDim)

	// conv_in: latent -> 6 channels, then 6 -> 4 -> 4 -> 4 across the stages.
	b.add("conv_in.weight", 6, cfg.LatentDim, 3)
	b.add("conv_in.bias", 6)

	channels := []int64{6, 4, 4, 4}
	strides := append([]int64{cfg.LatentHop}, cfg.UpsampleRates...)

	for i, stride := range strides {
		prefix := fmt.Sprintf("upsample.%d", i)
		in, out := channels[i], channels[i+1]

		b.add(prefix+".up.weight", in, out, 2*stride)
		b.add(prefix+".up.bias", out)

		if snake {
			b.addConst(prefix+".act_alpha", 0.5, out)
			b.addConst(prefix+".act_beta", 1.0, out)
		}

		b.add(prefix+".res.dw.weight", out, 1, 3)
		b.add(prefix+".res.dw.bias", out)
		b.addOnes(prefix+".res.norm.weight", out)
		b.add(prefix+".res.pw1.weight", 2*out, out, 1)
		b.add(prefix+".res.pw1.bias", 2*out)
		b.add(prefix+".res.pw2.weight", out, 2*out, 1)
		b.add(prefix+".res.pw2.bias", out)
		b.addConst(prefix+".res.scale", 0.1, out)
	}

	b.add("conv_out.weight", 1, channels[len(channels)-1], 3)
	b.add("conv_out.bias", 1)

	return b.tensors
}

func loadCodecFixture(t *testing.T, cfg model.CodecConfig, numCodebooks, semantic int64) *CodecDecoder {
	t.Helper()

	data, err := safetensors.EncodeTensors(codecFixtureTensors(cfg, numCodebooks, semantic, cfg.Activation == "snake"))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	store, err := safetensors.OpenStoreFromBytes(data, safetensors.StoreOptions{})
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}

	dec, err := LoadCodecDecoder(NewVarBuilder(store), cfg, numCodebooks, semantic)
	if err != nil {
		t.Fatalf("load codec: %v", err)
	}

	return dec
}

func approxEqual(t *testing.T, got, want []float32, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(float64(got[i])-float64(want[i])) > tol {
			t.Fatalf("element %d: got %v, want %v (tol %v)", i, got[i], want[i], tol)
		}
	}
}
