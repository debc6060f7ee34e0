package native

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-qwen-tts/internal/model"
	"github.com/example/go-qwen-tts/internal/runtime/ops"
	"github.com/example/go-qwen-tts/internal/runtime/tensor"
)

// ErrNoFrames is returned when generation stops before producing a single
// audio frame.
var ErrNoFrames = errors.New("native: generation stopped before the first frame")

// Talker is the autoregressive model that turns a token prompt into frames
// of acoustic codes, one frame per decoding step.
type Talker struct {
	cfg model.TalkerConfig

	embed     *Embedding // text token table
	codeEmbed *Embedding // flattened [numCodebooks * codebookSize, hidden]
	spkProj   *Linear    // optional x-vector projection
	langEmbed *Embedding // optional language table

	layers []*TransformerBlock
	norm   *RMSNorm
	rope   *ops.RoPETable

	predictor codePredictor
}

// sampleFunc draws a code index from one row of logits.
type sampleFunc func(logits []float32) int64

// codePredictor maps a hidden state to one code per codebook group.
type codePredictor interface {
	predict(h *tensor.Tensor, sample sampleFunc) ([]int64, error)
}

// jointHeadPredictor projects the hidden state through one linear head per
// codebook group and samples every group from the same step.
type jointHeadPredictor struct {
	heads []*Linear
}

func (p *jointHeadPredictor) predict(h *tensor.Tensor, sample sampleFunc) ([]int64, error) {
	codes := make([]int64, len(p.heads))

	for g, head := range p.heads {
		logits, err := head.Forward(h)
		if err != nil {
			return nil, fmt.Errorf("native: code head %d: %w", g, err)
		}

		codes[g] = sample(logits.RawData())
	}

	return codes, nil
}

// LoadTalker builds the talker from a store already scoped to its tensors.
func LoadTalker(vb *VarBuilder, cfg model.TalkerConfig) (*Talker, error) {
	embed, err := loadEmbedding(vb, "embed_tokens")
	if err != nil {
		return nil, fmt.Errorf("native: talker token table: %w", err)
	}

	if embed.Dim() != cfg.HiddenSize {
		return nil, fmt.Errorf("native: talker token table dim %d does not match hidden size %d", embed.Dim(), cfg.HiddenSize)
	}

	codeEmbed, err := loadEmbedding(vb, "code_embed")
	if err != nil {
		return nil, fmt.Errorf("native: talker code table: %w", err)
	}

	if want := cfg.NumCodebooks * cfg.CodebookSize; codeEmbed.Entries() != want {
		return nil, fmt.Errorf("native: talker code table has %d rows, want %d", codeEmbed.Entries(), want)
	}

	var spkProj *Linear
	if vb.Has("speaker_proj.weight") {
		spkProj, err = loadLinear(vb, "speaker_proj", true)
		if err != nil {
			return nil, fmt.Errorf("native: talker speaker projection: %w", err)
		}
	}

	var langEmbed *Embedding
	if vb.Has("lang_embed.weight") {
		langEmbed, err = loadEmbedding(vb, "lang_embed")
		if err != nil {
			return nil, fmt.Errorf("native: talker language table: %w", err)
		}
	}

	dims := blockDims{
		hidden:     cfg.HiddenSize,
		numHeads:   cfg.NumHeads,
		numKVHeads: cfg.NumKVHeads,
		headDim:    cfg.HeadDim,
		eps:        cfg.RMSNormEps,
	}

	layers := make([]*TransformerBlock, cfg.NumLayers)
	for i := range layers {
		layer, err := loadTransformerBlock(vb.Path("layers", fmt.Sprintf("%d", i)), dims)
		if err != nil {
			return nil, fmt.Errorf("native: talker layer %d: %w", i, err)
		}

		layers[i] = layer
	}

	norm, err := loadRMSNorm(vb, "norm", cfg.RMSNormEps)
	if err != nil {
		return nil, fmt.Errorf("native: talker final norm: %w", err)
	}

	rope, err := ops.BuildRoPETable(cfg.MaxSeqLen, cfg.HeadDim, cfg.RopeTheta)
	if err != nil {
		return nil, fmt.Errorf("native: talker rope table: %w", err)
	}

	predictor, err := loadCodePredictor(vb, cfg)
	if err != nil {
		return nil, err
	}

	return &Talker{
		cfg:       cfg,
		embed:     embed,
		codeEmbed: codeEmbed,
		spkProj:   spkProj,
		langEmbed: langEmbed,
		layers:    layers,
		norm:      norm,
		rope:      rope,
		predictor: predictor,
	}, nil
}

// loadCodePredictor picks the prediction strategy from the weight inventory.
// Current checkpoints ship one output head per codebook group.
func loadCodePredictor(vb *VarBuilder, cfg model.TalkerConfig) (codePredictor, error) {
	heads := make([]*Linear, cfg.NumCodebooks)

	for g := range heads {
		head, err := loadLinear(vb, fmt.Sprintf("code_heads.%d", g), false)
		if err != nil {
			return nil, fmt.Errorf("native: talker code head %d: %w", g, err)
		}

		if head.Weight.Shape()[0] != cfg.CodebookSize {
			return nil, fmt.Errorf("native: talker code head %d out features %d do not match codebook size %d", g, head.Weight.Shape()[0], cfg.CodebookSize)
		}

		heads[g] = head
	}

	return &jointHeadPredictor{heads: heads}, nil
}

// GenerateOptions controls one decoding run.
type GenerateOptions struct {
	// MaxFrames caps the number of generated frames; 0 uses the remaining
	// context window.
	MaxFrames int64
	// Temperature <= 0 selects greedy decoding.
	Temperature float32
	// Rand supplies the sampling stream; required when Temperature > 0.
	Rand *rand.Rand
	// Speaker is an optional x-vector [D] or [1, D] prepended to the prompt
	// after projection.
	Speaker *tensor.Tensor
	// Language indexes the language table; negative means none.
	Language int64
}

// Generate runs the decoding loop and returns one code row per frame, each
// holding NumCodebooks entries. The stop decision is taken before the frame
// is kept, so a run that stops immediately returns ErrNoFrames.
func (t *Talker) Generate(ctx context.Context, textIDs []int64, opts GenerateOptions) ([][]int64, error) {
	if len(textIDs) == 0 {
		return nil, errors.New("native: talker requires a non-empty prompt")
	}

	if opts.Temperature > 0 && opts.Rand == nil {
		return nil, errors.New("native: sampling with temperature > 0 requires a random source")
	}

	prompt, err := t.buildPrompt(textIDs, opts)
	if err != nil {
		return nil, err
	}

	promptLen := prompt.Shape()[1]

	maxFrames := t.cfg.MaxSeqLen - promptLen
	if opts.MaxFrames > 0 && opts.MaxFrames < maxFrames {
		maxFrames = opts.MaxFrames
	}

	if maxFrames <= 0 {
		return nil, fmt.Errorf("native: prompt length %d leaves no room to generate within %d positions", promptLen, t.cfg.MaxSeqLen)
	}

	sample := t.sampler(opts)

	states := make([]*BlockState, len(t.layers))
	for i := range states {
		states[i] = &BlockState{}
	}

	h, err := t.forward(prompt, states, 0)
	if err != nil {
		return nil, fmt.Errorf("native: talker prefill: %w", err)
	}

	var frames [][]int64

	pos := promptLen

	for int64(len(frames)) < maxFrames {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("native: talker generation: %w", err)
		}

		codes, err := t.predictor.predict(h, sample)
		if err != nil {
			return nil, err
		}

		if codes[0] == t.cfg.StopCode {
			if len(frames) == 0 {
				return nil, ErrNoFrames
			}

			return frames, nil
		}

		frames = append(frames, codes)

		if int64(len(frames)) == maxFrames {
			return frames, nil
		}

		next, err := t.embedFrame(codes)
		if err != nil {
			return nil, err
		}

		h, err = t.forward(next, states, pos)
		if err != nil {
			return nil, fmt.Errorf("native: talker step %d: %w", len(frames), err)
		}

		pos++
	}

	return frames, nil
}

// buildPrompt assembles [lang][speaker][text...] conditioning embeddings.
func (t *Talker) buildPrompt(textIDs []int64, opts GenerateOptions) (*tensor.Tensor, error) {
	var parts []*tensor.Tensor

	if opts.Language >= 0 {
		if t.langEmbed == nil {
			return nil, errors.New("native: checkpoint has no language table")
		}

		if opts.Language >= t.langEmbed.Entries() {
			return nil, fmt.Errorf("native: language id %d out of range %d", opts.Language, t.langEmbed.Entries())
		}

		lang, err := t.langEmbed.Forward([]int64{opts.Language})
		if err != nil {
			return nil, err
		}

		parts = append(parts, lang)
	}

	if opts.Speaker != nil {
		if t.spkProj == nil {
			return nil, errors.New("native: checkpoint has no speaker projection")
		}

		spkDim := t.spkProj.Weight.Shape()[1]

		spk, err := opts.Speaker.Reshape([]int64{1, 1, spkDim})
		if err != nil {
			return nil, fmt.Errorf("native: speaker embedding: %w", err)
		}

		projected, err := t.spkProj.Forward(spk)
		if err != nil {
			return nil, fmt.Errorf("native: speaker projection: %w", err)
		}

		parts = append(parts, projected)
	}

	for _, id := range textIDs {
		if id < 0 || id >= t.embed.Entries() {
			return nil, fmt.Errorf("native: token id %d out of vocabulary range %d", id, t.embed.Entries())
		}
	}

	text, err := t.embed.Forward(textIDs)
	if err != nil {
		return nil, err
	}

	parts = append(parts, text)

	if len(parts) == 1 {
		return parts[0], nil
	}

	return tensor.Concat(parts, 1)
}

// embedFrame sums the per-group code embeddings of one frame into a single
// input position.
func (t *Talker) embedFrame(codes []int64) (*tensor.Tensor, error) {
	rows := make([]int64, len(codes))

	for g, code := range codes {
		if code < 0 || code >= t.cfg.CodebookSize {
			return nil, fmt.Errorf("native: code %d in group %d out of range %d", code, g, t.cfg.CodebookSize)
		}

		rows[g] = int64(g)*t.cfg.CodebookSize + code
	}

	gathered, err := t.codeEmbed.Forward(rows)
	if err != nil {
		return nil, err
	}

	data := gathered.RawData()
	dim := int(t.cfg.HiddenSize)
	summed := make([]float32, dim)

	for g := range codes {
		row := data[g*dim : (g+1)*dim]
		for i, v := range row {
			summed[i] += v
		}
	}

	return tensor.New(summed, []int64{1, 1, t.cfg.HiddenSize})
}

// forward runs x through all layers and returns the normalized hidden state
// of the last position.
func (t *Talker) forward(x *tensor.Tensor, states []*BlockState, pos int64) (*tensor.Tensor, error) {
	var err error

	for i, layer := range t.layers {
		x, err = layer.Forward(x, t.rope, states[i], pos)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}

	last, err := lastPosition(x)
	if err != nil {
		return nil, err
	}

	return t.norm.Forward(last)
}

// sampler builds the per-row code sampler from the decoding options.
func (t *Talker) sampler(opts GenerateOptions) sampleFunc {
	if opts.Temperature <= 0 {
		return argmaxRow
	}

	temp := float64(opts.Temperature)
	rng := opts.Rand

	return func(logits []float32) int64 {
		// Temperature-scaled softmax in float64 for a stable CDF.
		maxLogit := float64(logits[0])
		for _, v := range logits[1:] {
			if float64(v) > maxLogit {
				maxLogit = float64(v)
			}
		}

		weights := make([]float64, len(logits))
		total := 0.0

		for i, v := range logits {
			w := math.Exp((float64(v) - maxLogit) / temp)
			weights[i] = w
			total += w
		}

		target := rng.Float64() * total

		acc := 0.0
		for i, w := range weights {
			acc += w
			if target <= acc {
				return int64(i)
			}
		}

		return int64(len(logits) - 1)
	}
}

// NumCodebooks reports the number of code groups per frame.
func (t *Talker) NumCodebooks() int64 {
	return t.cfg.NumCodebooks
}
