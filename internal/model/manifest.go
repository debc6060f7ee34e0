package model

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRepo is the reference checkpoint this engine is built for.
const DefaultRepo = "Qwen/Qwen3-TTS-12Hz-1.7B"

// Standard file names inside a model directory.
const (
	ConfigFile    = "config.json"
	WeightsFile   = "model.safetensors"
	VoicesFile    = "voices.json"
	VoicesDir     = "voices"
	TokenizerFile = "tokenizer.model"
	LockFile      = "download-manifest.lock.json"
)

// Manifest pins the remote files a model directory is built from.
type Manifest struct {
	Repo  string      `json:"repo"`
	Files []ModelFile `json:"files"`
}

type ModelFile struct {
	Filename string `json:"filename"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

// PinnedManifest returns the known-good file set for a supported repo.
// Checksums left empty are resolved from remote metadata on first download
// and persisted into the local lock manifest.
func PinnedManifest(repo string) (Manifest, error) {
	switch repo {
	case DefaultRepo:
		return Manifest{
			Repo: repo,
			Files: []ModelFile{
				{Filename: ConfigFile, Revision: "main"},
				{Filename: WeightsFile, Revision: "main"},
				{Filename: TokenizerFile, Revision: "main"},
				{Filename: VoicesFile, Revision: "main"},
			},
		}, nil
	default:
		return Manifest{}, fmt.Errorf("model: no pinned manifest for repo %q", repo)
	}
}

// Dir resolves file paths inside a model directory.
type Dir struct {
	Root string
}

func (d Dir) ConfigPath() string    { return filepath.Join(d.Root, ConfigFile) }
func (d Dir) WeightsPath() string   { return filepath.Join(d.Root, WeightsFile) }
func (d Dir) VoicesPath() string    { return filepath.Join(d.Root, VoicesFile) }
func (d Dir) VoicesDir() string     { return filepath.Join(d.Root, VoicesDir) }
func (d Dir) TokenizerPath() string { return filepath.Join(d.Root, TokenizerFile) }
func (d Dir) LockPath() string      { return filepath.Join(d.Root, LockFile) }

// IsComplete reports whether the files required for loading are present.
// The voice catalog and tokenizer are optional at this level; the engine
// degrades without them.
func (d Dir) IsComplete() bool {
	for _, p := range []string{d.ConfigPath(), d.WeightsPath()} {
		fi, err := os.Stat(p)
		if err != nil || fi.IsDir() {
			return false
		}
	}

	return true
}
