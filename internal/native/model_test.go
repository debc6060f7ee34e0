package native

import (
	"strings"
	"testing"

	"github.com/example/go-qwen-tts/internal/model"
	"github.com/example/go-qwen-tts/internal/safetensors"
)

func prefixTensors(prefix string, tensors []safetensors.Tensor) []safetensors.Tensor {
	out := make([]safetensors.Tensor, len(tensors))

	for i, tensor := range tensors {
		tensor.Name = prefix + tensor.Name
		out[i] = tensor
	}

	return out
}

func checkpointBytes(t *testing.T, withCodec bool) []byte {
	t.Helper()

	talkerCfg := talkerFixtureConfig()
	tensors := prefixTensors(talkerPrefix, talkerFixtureTensors(talkerCfg))

	if withCodec {
		codecCfg := codecFixtureConfig()
		tensors = append(tensors, prefixTensors(codecPrefix,
			codecFixtureTensors(codecCfg, talkerCfg.NumCodebooks, talkerCfg.SemanticCodebooks, false))...)
	}

	data, err := safetensors.EncodeTensors(tensors)
	if err != nil {
		t.Fatalf("encode checkpoint: %v", err)
	}

	return data
}

func TestLoadModelWithCodec(t *testing.T) {
	talkerCfg := talkerFixtureConfig()
	codecCfg := codecFixtureConfig()
	cfg := &model.Config{ModelType: "qwen3_tts", Talker: talkerCfg, Codec: &codecCfg}

	m, err := loadModelFromBytes(checkpointBytes(t, true), cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if m.Talker == nil {
		t.Fatal("talker not loaded")
	}

	if m.Codec == nil {
		t.Fatal("codec not loaded")
	}

	if got := m.Codec.SampleRate(); got != codecCfg.SampleRate {
		t.Fatalf("sample rate = %d, want %d", got, codecCfg.SampleRate)
	}
}

func TestLoadModelWithoutCodec(t *testing.T) {
	cfg := &model.Config{ModelType: "qwen3_tts", Talker: talkerFixtureConfig()}

	m, err := loadModelFromBytes(checkpointBytes(t, false), cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if m.Codec != nil {
		t.Fatal("codec should be nil for a talker-only checkpoint")
	}
}

func TestLoadModelCodecTensorsWithoutConfig(t *testing.T) {
	cfg := &model.Config{ModelType: "qwen3_tts", Talker: talkerFixtureConfig()}

	_, err := loadModelFromBytes(checkpointBytes(t, true), cfg)
	if err == nil {
		t.Fatal("expected error when config lacks the code2wav section")
	}

	if !strings.Contains(err.Error(), "code2wav") {
		t.Fatalf("error %q does not mention code2wav", err)
	}
}

func TestLoadModelMissingTalker(t *testing.T) {
	tensors := []safetensors.Tensor{{
		Name:  "other.weight",
		Shape: []int64{2},
		Data:  []float32{1, 2},
	}}

	data, err := safetensors.EncodeTensors(tensors)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cfg := &model.Config{ModelType: "qwen3_tts", Talker: talkerFixtureConfig()}

	if _, err := loadModelFromBytes(data, cfg); err == nil {
		t.Fatal("expected error for checkpoint without talker tensors")
	}
}
