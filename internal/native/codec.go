package native

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-qwen-tts/internal/model"
	"github.com/example/go-qwen-tts/internal/runtime/ops"
	"github.com/example/go-qwen-tts/internal/runtime/tensor"
)

// CodecDecoder turns frames of residual-quantizer codes into a waveform.
// The pipeline is: dequantize (semantic + acoustic embeddings), refine with
// a small pre-norm transformer, project to the latent space, then upsample
// with causal transposed convolutions and residual blocks down to one
// audio channel.
type CodecDecoder struct {
	cfg       model.CodecConfig
	semantic  int64 // leading groups drawn from the shared semantic table
	codebooks int64

	semEmbed *Embedding
	semProj  *Linear
	acEmbeds []*Embedding
	acProj   *Linear

	layers []*TransformerBlock
	norm   *RMSNorm
	rope   *ops.RoPETable

	latentProj *Linear
	convIn     *convLayer
	stages     []*upsampleStage
	convOut    *convLayer
}

// convLayer is a causal Conv1D with its load-time geometry.
type convLayer struct {
	weight *tensor.Tensor // [outCh, inCh/groups, k]
	bias   *tensor.Tensor
	groups int64
}

func loadConvLayer(vb *VarBuilder, name string, groups int64) (*convLayer, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	if len(w.Shape()) != 3 {
		return nil, fmt.Errorf("native: conv %q weight must be rank-3, got %v", name, w.Shape())
	}

	b, _, err := vb.TensorMaybe(name + ".bias")
	if err != nil {
		return nil, err
	}

	return &convLayer{weight: w, bias: b, groups: groups}, nil
}

func (c *convLayer) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return ops.Conv1DCausal(x, c.weight, c.bias, 1, 1, c.groups)
}

// upsampleStage is one causal transposed convolution followed by an
// activation and a depthwise residual block.
type upsampleStage struct {
	stride   int64
	upWeight *tensor.Tensor // [inCh, outCh, k]
	upBias   *tensor.Tensor

	actAlpha *tensor.Tensor // snake only, [outCh]
	actBeta  *tensor.Tensor // snake only, [outCh]

	dw    *convLayer // depthwise causal conv
	norm  *RMSNorm   // over channels
	pw1   *convLayer // pointwise expand
	pw2   *convLayer // pointwise contract
	scale *tensor.Tensor // learned residual scale, [outCh]
}

// LoadCodecDecoder builds the decoder from a store scoped to its tensors.
// numCodebooks/semanticCodebooks come from the talker layout so the two
// halves of the checkpoint cannot disagree silently.
func LoadCodecDecoder(vb *VarBuilder, cfg model.CodecConfig, numCodebooks, semanticCodebooks int64) (*CodecDecoder, error) {
	if numCodebooks <= 0 || semanticCodebooks <= 0 || semanticCodebooks > numCodebooks {
		return nil, fmt.Errorf("native: codec codebook split %d/%d invalid", semanticCodebooks, numCodebooks)
	}

	semEmbed, err := loadEmbedding(vb, "semantic_embed")
	if err != nil {
		return nil, fmt.Errorf("native: codec semantic table: %w", err)
	}

	if semEmbed.Entries() != cfg.CodebookSize {
		return nil, fmt.Errorf("native: codec semantic table has %d rows, want %d", semEmbed.Entries(), cfg.CodebookSize)
	}

	if semEmbed.Dim() != cfg.HiddenSize {
		return nil, fmt.Errorf("native: codec semantic table dim %d does not match hidden size %d", semEmbed.Dim(), cfg.HiddenSize)
	}

	semProj, err := loadLinear(vb, "semantic_proj", true)
	if err != nil {
		return nil, fmt.Errorf("native: codec semantic projection: %w", err)
	}

	acoustic := numCodebooks - semanticCodebooks
	acEmbeds := make([]*Embedding, acoustic)

	for g := range acEmbeds {
		e, err := loadEmbedding(vb, fmt.Sprintf("acoustic_embed.%d", g))
		if err != nil {
			return nil, fmt.Errorf("native: codec acoustic table %d: %w", g, err)
		}

		if e.Entries() != cfg.CodebookSize || e.Dim() != cfg.HiddenSize {
			return nil, fmt.Errorf("native: codec acoustic table %d has shape %dx%d, want %dx%d", g, e.Entries(), e.Dim(), cfg.CodebookSize, cfg.HiddenSize)
		}

		acEmbeds[g] = e
	}

	var acProj *Linear
	if acoustic > 0 {
		acProj, err = loadLinear(vb, "acoustic_proj", true)
		if err != nil {
			return nil, fmt.Errorf("native: codec acoustic projection: %w", err)
		}
	}

	dims := blockDims{
		hidden:     cfg.HiddenSize,
		numHeads:   cfg.NumHeads,
		numKVHeads: cfg.NumHeads,
		headDim:    cfg.HeadDim,
		eps:        cfg.RMSNormEps,
	}

	layers := make([]*TransformerBlock, cfg.NumLayers)
	for i := range layers {
		layer, err := loadTransformerBlock(vb.Path("layers", fmt.Sprintf("%d", i)), dims)
		if err != nil {
			return nil, fmt.Errorf("native: codec layer %d: %w", i, err)
		}

		layers[i] = layer
	}

	norm, err := loadRMSNorm(vb, "norm", cfg.RMSNormEps)
	if err != nil {
		return nil, fmt.Errorf("native: codec final norm: %w", err)
	}

	// Frame count bounds the refinement sequence length.
	rope, err := ops.BuildRoPETable(8192, cfg.HeadDim, 10000)
	if err != nil {
		return nil, fmt.Errorf("native: codec rope table: %w", err)
	}

	latentProj, err := loadLinear(vb, "latent_proj", true)
	if err != nil {
		return nil, fmt.Errorf("native: codec latent projection: %w", err)
	}

	convIn, err := loadConvLayer(vb, "conv_in", 1)
	if err != nil {
		return nil, fmt.Errorf("native: codec conv_in: %w", err)
	}

	// Stage 0 upsamples by the latent hop; the remaining stages follow the
	// configured rates. The product times one frame's latent positions gives
	// SamplesPerFrame.
	strides := append([]int64{cfg.LatentHop}, cfg.UpsampleRates...)
	stages := make([]*upsampleStage, len(strides))

	prevCh := convIn.weight.Shape()[0]

	for i, stride := range strides {
		stage, err := loadUpsampleStage(vb.Path("upsample", fmt.Sprintf("%d", i)), stride, cfg.Activation)
		if err != nil {
			return nil, fmt.Errorf("native: codec upsample stage %d: %w", i, err)
		}

		if got := stage.upWeight.Shape()[0]; got != prevCh {
			return nil, fmt.Errorf("native: codec upsample stage %d expects %d input channels, previous stage provides %d", i, got, prevCh)
		}

		prevCh = stage.upWeight.Shape()[1]
		stages[i] = stage
	}

	convOut, err := loadConvLayer(vb, "conv_out", 1)
	if err != nil {
		return nil, fmt.Errorf("native: codec conv_out: %w", err)
	}

	if convOut.weight.Shape()[0] != 1 {
		return nil, fmt.Errorf("native: codec conv_out must emit one channel, got %d", convOut.weight.Shape()[0])
	}

	if convOut.weight.Shape()[1] != prevCh {
		return nil, fmt.Errorf("native: codec conv_out expects %d input channels, stages provide %d", convOut.weight.Shape()[1], prevCh)
	}

	return &CodecDecoder{
		cfg:        cfg,
		semantic:   semanticCodebooks,
		codebooks:  numCodebooks,
		semEmbed:   semEmbed,
		semProj:    semProj,
		acEmbeds:   acEmbeds,
		acProj:     acProj,
		layers:     layers,
		norm:       norm,
		rope:       rope,
		latentProj: latentProj,
		convIn:     convIn,
		stages:     stages,
		convOut:    convOut,
	}, nil
}

func loadUpsampleStage(vb *VarBuilder, stride int64, activation string) (*upsampleStage, error) {
	upWeight, err := vb.Tensor("up.weight")
	if err != nil {
		return nil, err
	}

	if len(upWeight.Shape()) != 3 {
		return nil, fmt.Errorf("up.weight must be rank-3, got %v", upWeight.Shape())
	}

	if upWeight.Shape()[2] < stride {
		return nil, fmt.Errorf("up.weight kernel %d shorter than stride %d", upWeight.Shape()[2], stride)
	}

	upBias, _, err := vb.TensorMaybe("up.bias")
	if err != nil {
		return nil, err
	}

	outCh := upWeight.Shape()[1]

	var actAlpha, actBeta *tensor.Tensor

	if activation == "snake" {
		actAlpha, err = vb.Tensor("act_alpha", outCh)
		if err != nil {
			return nil, err
		}

		actBeta, err = vb.Tensor("act_beta", outCh)
		if err != nil {
			return nil, err
		}
	}

	dw, err := loadConvLayer(vb, "res.dw", outCh)
	if err != nil {
		return nil, err
	}

	norm, err := loadRMSNorm(vb, "res.norm", 1e-6)
	if err != nil {
		return nil, err
	}

	pw1, err := loadConvLayer(vb, "res.pw1", 1)
	if err != nil {
		return nil, err
	}

	pw2, err := loadConvLayer(vb, "res.pw2", 1)
	if err != nil {
		return nil, err
	}

	scale, err := vb.Tensor("res.scale", outCh)
	if err != nil {
		return nil, err
	}

	return &upsampleStage{
		stride:   stride,
		upWeight: upWeight,
		upBias:   upBias,
		actAlpha: actAlpha,
		actBeta:  actBeta,
		dw:       dw,
		norm:     norm,
		pw1:      pw1,
		pw2:      pw2,
		scale:    scale,
	}, nil
}

// SampleRate returns the output sample rate in Hz.
func (d *CodecDecoder) SampleRate() int {
	return d.cfg.SampleRate
}

// SamplesPerFrame returns the number of samples one frame expands to.
func (d *CodecDecoder) SamplesPerFrame() int64 {
	return d.cfg.SamplesPerFrame()
}

// Decode converts frames of codes (one row per frame, NumCodebooks entries
// each) into a waveform tensor [1, 1, frames*SamplesPerFrame] in [-1, 1].
func (d *CodecDecoder) Decode(frames [][]int64) (*tensor.Tensor, error) {
	if len(frames) == 0 {
		return nil, errors.New("native: codec requires at least one frame")
	}

	latent, err := d.dequantize(frames)
	if err != nil {
		return nil, err
	}

	refined, err := d.refine(latent)
	if err != nil {
		return nil, err
	}

	projected, err := d.latentProj.Forward(refined)
	if err != nil {
		return nil, fmt.Errorf("native: codec latent projection: %w", err)
	}

	// [1, T, latent] -> [1, latent, T] for the convolutional stack.
	x, err := projected.Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	x, err = d.convIn.forward(x)
	if err != nil {
		return nil, fmt.Errorf("native: codec conv_in: %w", err)
	}

	for i, stage := range d.stages {
		x, err = stage.forward(x, d.cfg.Activation)
		if err != nil {
			return nil, fmt.Errorf("native: codec upsample stage %d: %w", i, err)
		}
	}

	x, err = d.convOut.forward(x)
	if err != nil {
		return nil, fmt.Errorf("native: codec conv_out: %w", err)
	}

	// Bound the waveform.
	ops.ApplyUnary(x, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})

	want := int64(len(frames)) * d.SamplesPerFrame()
	if got := x.Shape()[2]; got != want {
		return nil, fmt.Errorf("native: codec produced %d samples for %d frames, want %d", got, len(frames), want)
	}

	return x, nil
}

// dequantize sums the semantic and acoustic embeddings of every frame and
// merges the two projected streams.
func (d *CodecDecoder) dequantize(frames [][]int64) (*tensor.Tensor, error) {
	seq := int64(len(frames))
	hidden := int(d.cfg.HiddenSize)

	semData := make([]float32, seq*int64(hidden))
	acData := make([]float32, seq*int64(hidden))
	semTable := d.semEmbed.Weight.RawData()

	for fi, frame := range frames {
		if int64(len(frame)) != d.codebooks {
			return nil, fmt.Errorf("native: frame %d has %d codes, want %d", fi, len(frame), d.codebooks)
		}

		for g, code := range frame {
			if code < 0 || code >= d.cfg.CodebookSize {
				return nil, fmt.Errorf("native: frame %d group %d code %d out of range %d", fi, g, code, d.cfg.CodebookSize)
			}

			var table []float32
			var dst []float32

			if int64(g) < d.semantic {
				table = semTable
				dst = semData[fi*hidden : (fi+1)*hidden]
			} else {
				table = d.acEmbeds[int64(g)-d.semantic].Weight.RawData()
				dst = acData[fi*hidden : (fi+1)*hidden]
			}

			row := table[int(code)*hidden : (int(code)+1)*hidden]
			for i, v := range row {
				dst[i] += v
			}
		}
	}

	sem, err := tensor.New(semData, []int64{1, seq, d.cfg.HiddenSize})
	if err != nil {
		return nil, err
	}

	sem, err = d.semProj.Forward(sem)
	if err != nil {
		return nil, fmt.Errorf("native: codec semantic projection: %w", err)
	}

	if d.acProj == nil {
		return sem, nil
	}

	ac, err := tensor.New(acData, []int64{1, seq, d.cfg.HiddenSize})
	if err != nil {
		return nil, err
	}

	ac, err = d.acProj.Forward(ac)
	if err != nil {
		return nil, fmt.Errorf("native: codec acoustic projection: %w", err)
	}

	return addSameShape(sem, ac)
}

// refine runs the full frame sequence through the transformer stack in one
// pass and applies the final norm.
func (d *CodecDecoder) refine(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error

	for i, layer := range d.layers {
		state := &BlockState{}

		x, err = layer.Forward(x, d.rope, state, 0)
		if err != nil {
			return nil, fmt.Errorf("native: codec layer %d: %w", i, err)
		}
	}

	return d.norm.Forward(x)
}

func (s *upsampleStage) forward(x *tensor.Tensor, activation string) (*tensor.Tensor, error) {
	up, err := ops.ConvTranspose1DCausal(x, s.upWeight, s.upBias, s.stride, 1)
	if err != nil {
		return nil, fmt.Errorf("transposed conv: %w", err)
	}

	if err := s.activate(up, activation); err != nil {
		return nil, err
	}

	res, err := s.residual(up)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// activate applies the configured nonlinearity in place, per channel for
// snake.
func (s *upsampleStage) activate(x *tensor.Tensor, activation string) error {
	switch activation {
	case "elu":
		ops.ApplyUnary(x, ops.ELU)
	case "silu":
		ops.ApplyUnary(x, ops.SiLU)
	case "snake":
		shape := x.Shape() // [1, C, T]
		channels := int(shape[1])
		length := int(shape[2])
		alpha := s.actAlpha.RawData()
		beta := s.actBeta.RawData()
		data := x.RawData()

		for c := range channels {
			a := alpha[c]

			b := beta[c]
			if b > -1e-6 && b < 1e-6 {
				b = 1e-6
			}

			row := data[c*length : (c+1)*length]
			for i, v := range row {
				row[i] = ops.Snake(v, a, b)
			}
		}
	default:
		return fmt.Errorf("unsupported activation %q", activation)
	}

	return nil
}

// residual applies dw conv -> channel norm -> pointwise MLP -> scaled skip.
func (s *upsampleStage) residual(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := s.dw.forward(x)
	if err != nil {
		return nil, fmt.Errorf("depthwise conv: %w", err)
	}

	// Norm runs over channels, so flip to [1, T, C] and back.
	y, err = y.Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	y, err = s.norm.Forward(y)
	if err != nil {
		return nil, err
	}

	y, err = y.Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	y, err = s.pw1.forward(y)
	if err != nil {
		return nil, fmt.Errorf("pointwise expand: %w", err)
	}

	ops.ApplyUnary(y, ops.SiLU)

	y, err = s.pw2.forward(y)
	if err != nil {
		return nil, fmt.Errorf("pointwise contract: %w", err)
	}

	// Scale each channel of the branch before the skip connection.
	shape := y.Shape()
	channels := int(shape[1])
	length := int(shape[2])
	scale := s.scale.RawData()
	data := y.RawData()

	for c := range channels {
		sc := scale[c]

		row := data[c*length : (c+1)*length]
		for i := range row {
			row[i] *= sc
		}
	}

	return addSameShape(x, y)
}
