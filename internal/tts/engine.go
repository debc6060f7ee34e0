// Package tts orchestrates the synthesis pipeline: model loading, voice and
// language catalogs, the generation state machine, and audio output.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"

	"github.com/example/go-qwen-tts/internal/audio"
	"github.com/example/go-qwen-tts/internal/model"
	"github.com/example/go-qwen-tts/internal/native"
	"github.com/example/go-qwen-tts/internal/text"
	"github.com/example/go-qwen-tts/internal/tokenizer"
)

// State is the engine lifecycle state.
type State string

const (
	StateUnloaded   State = "unloaded"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateGenerating State = "generating"
)

// PostOptions are optional audio post-processing filters applied after
// decoding.
type PostOptions struct {
	PeakNormalize   bool
	NormalizeTarget float32
	DCBlock         bool
	FadeMs          float64
}

// Options configure an Engine instance.
type Options struct {
	// ModelDir is the local model directory.
	ModelDir string
	// Repo is the Hugging Face repository to download from when the
	// directory is incomplete; empty uses the pinned default.
	Repo string
	// HFToken authenticates downloads from gated repositories.
	HFToken string
	// Tokenizer overrides the SentencePiece model shipped with the
	// checkpoint.
	Tokenizer tokenizer.Tokenizer
	// Post enables audio post-processing filters.
	Post PostOptions
}

// Request describes one synthesis call.
type Request struct {
	Text        string
	Voice       string // optional catalog voice name
	Language    string // optional language name from the config
	MaxFrames   int64  // 0 uses the remaining context window
	Temperature float32
	Seed        int64 // sampling seed when Temperature > 0
}

// Audio is a synthesized waveform.
type Audio struct {
	Samples    []float32
	SampleRate int
}

// Engine owns the model weights and enforces single-flight generation. All
// methods are safe for concurrent use.
type Engine struct {
	opts Options
	dir  model.Dir

	mu    sync.Mutex // guards state and loaded fields
	state State

	genMu sync.Mutex // serializes generation calls

	tok       tokenizer.Tokenizer
	mdl       *native.Model
	voices    *VoiceCatalog
	langIDs   map[string]int64
	langNames []string
}

// NewEngine creates an engine in the unloaded state.
func NewEngine(opts Options) *Engine {
	return &Engine{
		opts:  opts,
		dir:   model.Dir{Root: opts.ModelDir},
		state: StateUnloaded,
	}
}

// State reports the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// IsModelDownloaded reports whether the model directory has the required
// files.
func (e *Engine) IsModelDownloaded() bool {
	return e.dir.IsComplete()
}

// LoadModel downloads missing weights, parses the config, and builds the
// talker, codec, and catalogs. It is idempotent: a ready engine returns
// immediately. Progress may be nil.
func (e *Engine) LoadModel(ctx context.Context, progress model.ProgressFunc) error {
	e.mu.Lock()

	switch e.state {
	case StateReady:
		e.mu.Unlock()
		return nil
	case StateLoading, StateGenerating:
		e.mu.Unlock()
		return phaseErr(PhaseParse, fmt.Errorf("%w: engine is %s", ErrNotReady, e.state))
	}

	e.state = StateLoading
	e.mu.Unlock()

	err := e.load(ctx, progress)
	if err != nil {
		e.mu.Lock()
		e.state = StateUnloaded
		e.mu.Unlock()

		return err
	}

	e.mu.Lock()
	e.state = StateReady
	e.mu.Unlock()

	return nil
}

func (e *Engine) load(ctx context.Context, progress model.ProgressFunc) error {
	if !e.dir.IsComplete() {
		repo := e.opts.Repo
		if repo == "" {
			repo = model.DefaultRepo
		}

		slog.Info("downloading model", "repo", repo, "dir", e.dir.Root)

		err := model.Download(ctx, model.DownloadOptions{
			Repo:     repo,
			OutDir:   e.dir.Root,
			HFToken:  e.opts.HFToken,
			Progress: progress,
		})
		if err != nil {
			return phaseErr(PhaseDownload, err)
		}
	}

	mdl, err := native.LoadModel(e.dir)
	if err != nil {
		return phaseErr(PhaseParse, err)
	}

	tok := e.opts.Tokenizer
	if tok == nil {
		if _, err := os.Stat(e.dir.TokenizerPath()); err != nil {
			return phaseErr(PhaseParse, fmt.Errorf("tokenizer model: %w", err))
		}

		tok, err = tokenizer.NewSentencePiece(e.dir.TokenizerPath())
		if err != nil {
			return phaseErr(PhaseParse, err)
		}
	}

	voices, err := LoadVoiceCatalog(e.dir.VoicesPath())
	if err != nil {
		return phaseErr(PhaseParse, err)
	}

	langIDs := make(map[string]int64, len(mdl.Config.Languages))
	langNames := append([]string(nil), mdl.Config.Languages...)

	for i, name := range langNames {
		langIDs[name] = int64(i)
	}

	e.mu.Lock()
	e.mdl = mdl
	e.tok = tok
	e.voices = voices
	e.langIDs = langIDs
	e.langNames = langNames
	e.mu.Unlock()

	slog.Info("model loaded",
		"layers", mdl.Config.Talker.NumLayers,
		"codebooks", mdl.Config.Talker.NumCodebooks,
		"codec", mdl.Codec != nil,
		"voices", len(voices.List()))

	return nil
}

// Generate synthesizes audio for one request. It is only accepted in the
// ready state; concurrent calls are serialized.
func (e *Engine) Generate(ctx context.Context, req Request) (*Audio, error) {
	e.genMu.Lock()
	defer e.genMu.Unlock()

	e.mu.Lock()

	if e.state != StateReady {
		state := e.state
		e.mu.Unlock()

		return nil, phaseErr(PhaseGenerate, fmt.Errorf("%w: engine is %s", ErrNotReady, state))
	}

	e.state = StateGenerating
	mdl, tok, voices := e.mdl, e.tok, e.voices
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.state == StateGenerating {
			e.state = StateReady
		}
		e.mu.Unlock()
	}()

	if mdl.Codec == nil {
		return nil, phaseErr(PhaseDecode, ErrDecoderUnavailable)
	}

	normalized, err := text.Normalize(req.Text)
	if err != nil {
		return nil, phaseErr(PhaseTokenize, err)
	}

	ids, err := tok.Encode(normalized)
	if err != nil {
		return nil, phaseErr(PhaseTokenize, err)
	}

	if len(ids) == 0 {
		return nil, phaseErr(PhaseTokenize, errors.New("no tokens produced from input"))
	}

	opts := native.GenerateOptions{
		MaxFrames:   req.MaxFrames,
		Temperature: req.Temperature,
		Language:    -1,
	}

	if req.Temperature > 0 {
		opts.Rand = rand.New(rand.NewSource(req.Seed))
	}

	if req.Voice != "" {
		speaker, err := voices.Embedding(req.Voice)
		if err != nil {
			return nil, phaseErr(PhaseGenerate, err)
		}

		opts.Speaker = speaker
	}

	if req.Language != "" {
		id, ok := e.langIDs[req.Language]
		if !ok {
			return nil, phaseErr(PhaseGenerate, fmt.Errorf("unknown language %q", req.Language))
		}

		opts.Language = id
	}

	slog.Debug("generating", "tokens", len(ids), "voice", req.Voice, "language", req.Language)

	frames, err := mdl.Talker.Generate(ctx, ids, opts)
	if err != nil {
		return nil, phaseErr(PhaseGenerate, err)
	}

	wave, err := mdl.Codec.Decode(frames)
	if err != nil {
		return nil, phaseErr(PhaseDecode, err)
	}

	samples := append([]float32(nil), wave.RawData()...)
	rate := mdl.Codec.SampleRate()

	e.postProcess(samples, rate)

	slog.Debug("generated", "frames", len(frames), "samples", len(samples))

	return &Audio{Samples: samples, SampleRate: rate}, nil
}

// GenerateToFile synthesizes audio and writes it as a WAV file.
func (e *Engine) GenerateToFile(ctx context.Context, req Request, path string) error {
	out, err := e.Generate(ctx, req)
	if err != nil {
		return err
	}

	if err := audio.WriteWAVFile(path, out.Samples, out.SampleRate); err != nil {
		return phaseErr(PhaseDecode, err)
	}

	return nil
}

func (e *Engine) postProcess(samples []float32, rate int) {
	post := e.opts.Post

	if post.DCBlock {
		audio.DCBlock(samples)
	}

	if post.PeakNormalize {
		target := post.NormalizeTarget
		if target <= 0 {
			target = 0.95
		}

		audio.PeakNormalize(samples, target)
	}

	if post.FadeMs > 0 {
		audio.FadeIn(samples, rate, post.FadeMs)
		audio.FadeOut(samples, rate, post.FadeMs)
	}
}

// ListVoices returns the loaded voice catalog, or nil before load.
func (e *Engine) ListVoices() []Voice {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.voices == nil {
		return nil
	}

	return e.voices.List()
}

// ListLanguages returns the language names from the model config.
func (e *Engine) ListLanguages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.langNames...)
}

// Close releases the model and returns the engine to unloaded.
func (e *Engine) Close() {
	e.genMu.Lock()
	defer e.genMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.mdl = nil
	e.tok = nil
	e.voices = nil
	e.langIDs = nil
	e.langNames = nil
	e.state = StateUnloaded
}
