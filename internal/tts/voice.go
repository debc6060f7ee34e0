package tts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/example/go-qwen-tts/internal/npy"
	"github.com/example/go-qwen-tts/internal/runtime/tensor"
)

// Voice is one entry of the voices.json catalog shipped with a checkpoint.
type Voice struct {
	Name       string `json:"name"`
	Embedding  string `json:"embedding"`
	Transcript string `json:"transcript,omitempty"`
}

type voiceCatalogFile struct {
	Voices []Voice `json:"voices"`
}

// VoiceCatalog is the immutable voice table built once at load time. The
// x-vector embeddings are read lazily per request.
type VoiceCatalog struct {
	baseDir string
	voices  []Voice
	byName  map[string]Voice
}

// LoadVoiceCatalog parses voices.json. A missing file yields an empty
// catalog, since voice conditioning is optional.
func LoadVoiceCatalog(path string) (*VoiceCatalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &VoiceCatalog{byName: map[string]Voice{}}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("tts: read voice catalog: %w", err)
	}

	var file voiceCatalogFile

	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("tts: decode voice catalog: %w", err)
	}

	catalog := &VoiceCatalog{
		baseDir: filepath.Dir(path),
		voices:  append([]Voice(nil), file.Voices...),
		byName:  make(map[string]Voice, len(file.Voices)),
	}

	for _, v := range file.Voices {
		if v.Name == "" {
			return nil, errors.New("tts: voice catalog contains an empty name")
		}

		if v.Embedding == "" {
			return nil, fmt.Errorf("tts: voice %q has no embedding file", v.Name)
		}

		if _, exists := catalog.byName[v.Name]; exists {
			return nil, fmt.Errorf("tts: duplicate voice name %q", v.Name)
		}

		catalog.byName[v.Name] = v
	}

	return catalog, nil
}

// List returns the catalog entries in file order.
func (c *VoiceCatalog) List() []Voice {
	return append([]Voice(nil), c.voices...)
}

// Embedding loads the x-vector for a voice as a rank-1 tensor.
func (c *VoiceCatalog) Embedding(name string) (*tensor.Tensor, error) {
	v, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("tts: unknown voice %q", name)
	}

	path := v.Embedding
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.baseDir, path)
	}

	arr, err := npy.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("tts: voice %q embedding: %w", name, err)
	}

	count := int64(len(arr.Data))

	return tensor.New(arr.Data, []int64{count})
}
