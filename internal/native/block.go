package native

import (
	"fmt"

	"github.com/example/go-qwen-tts/internal/runtime/ops"
	"github.com/example/go-qwen-tts/internal/runtime/tensor"
)

// TransformerBlock is one pre-norm decoder layer: RMSNorm -> grouped-query
// attention with rotary embeddings -> residual -> RMSNorm -> gated MLP ->
// residual.
type TransformerBlock struct {
	inputNorm *RMSNorm
	postNorm  *RMSNorm
	qProj     *Linear
	kProj     *Linear
	vProj     *Linear
	oProj     *Linear
	gateProj  *Linear
	upProj    *Linear
	downProj  *Linear

	numHeads   int64
	numKVHeads int64
	headDim    int64
}

// BlockState holds the per-layer KV cache. Keys and values are stored as
// [1, kvHeads, seq, headDim] and grow along the sequence axis.
type BlockState struct {
	kCache *tensor.Tensor
	vCache *tensor.Tensor
	seqLen int64
}

func (s *BlockState) appendKV(k, v *tensor.Tensor) error {
	if s == nil {
		return fmt.Errorf("native: block state is nil")
	}

	if k == nil || v == nil {
		return fmt.Errorf("native: appendKV requires non-nil k/v tensors")
	}

	if s.kCache == nil || s.vCache == nil {
		s.kCache = k
		s.vCache = v
		s.seqLen = k.Shape()[2]

		return nil
	}

	kAll, err := tensor.Concat([]*tensor.Tensor{s.kCache, k}, 2)
	if err != nil {
		return fmt.Errorf("native: append key cache: %w", err)
	}

	vAll, err := tensor.Concat([]*tensor.Tensor{s.vCache, v}, 2)
	if err != nil {
		return fmt.Errorf("native: append value cache: %w", err)
	}

	s.kCache = kAll
	s.vCache = vAll
	s.seqLen = kAll.Shape()[2]

	return nil
}

// SeqLen returns the number of cached positions.
func (s *BlockState) SeqLen() int64 {
	if s == nil {
		return 0
	}

	return s.seqLen
}

// Reset discards the cache so the block can start a new sequence.
func (s *BlockState) Reset() {
	if s == nil {
		return
	}

	s.kCache = nil
	s.vCache = nil
	s.seqLen = 0
}

type blockDims struct {
	hidden     int64
	numHeads   int64
	numKVHeads int64
	headDim    int64
	eps        float32
}

func loadTransformerBlock(vb *VarBuilder, dims blockDims) (*TransformerBlock, error) {
	inputNorm, err := loadRMSNorm(vb, "input_norm", dims.eps)
	if err != nil {
		return nil, err
	}

	postNorm, err := loadRMSNorm(vb, "post_attn_norm", dims.eps)
	if err != nil {
		return nil, err
	}

	attn := vb.Path("attn")

	qProj, err := loadLinear(attn, "q_proj", true)
	if err != nil {
		return nil, err
	}

	kProj, err := loadLinear(attn, "k_proj", true)
	if err != nil {
		return nil, err
	}

	vProj, err := loadLinear(attn, "v_proj", true)
	if err != nil {
		return nil, err
	}

	oProj, err := loadLinear(attn, "o_proj", false)
	if err != nil {
		return nil, err
	}

	if got := qProj.Weight.Shape()[0]; got != dims.numHeads*dims.headDim {
		return nil, fmt.Errorf("native: q_proj out features %d do not match heads %d x head dim %d", got, dims.numHeads, dims.headDim)
	}

	if got := kProj.Weight.Shape()[0]; got != dims.numKVHeads*dims.headDim {
		return nil, fmt.Errorf("native: k_proj out features %d do not match kv heads %d x head dim %d", got, dims.numKVHeads, dims.headDim)
	}

	mlp := vb.Path("mlp")

	gateProj, err := loadLinear(mlp, "gate_proj", false)
	if err != nil {
		return nil, err
	}

	upProj, err := loadLinear(mlp, "up_proj", false)
	if err != nil {
		return nil, err
	}

	downProj, err := loadLinear(mlp, "down_proj", false)
	if err != nil {
		return nil, err
	}

	return &TransformerBlock{
		inputNorm:  inputNorm,
		postNorm:   postNorm,
		qProj:      qProj,
		kProj:      kProj,
		vProj:      vProj,
		oProj:      oProj,
		gateProj:   gateProj,
		upProj:     upProj,
		downProj:   downProj,
		numHeads:   dims.numHeads,
		numKVHeads: dims.numKVHeads,
		headDim:    dims.headDim,
	}, nil
}

// Forward processes x [1, T, D] at absolute position pos, appending this
// call's keys and values to state. Prefill passes the whole prompt with
// pos=0; incremental decoding passes one token per call with the running
// position. Attention is always causal over the cache, so both paths
// produce identical activations for the same token stream.
func (b *TransformerBlock) Forward(x *tensor.Tensor, rope *ops.RoPETable, state *BlockState, pos int64) (*tensor.Tensor, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("native: block expects [B, T, D] input, got %v", shape)
	}

	batch, seq := shape[0], shape[1]
	if batch != 1 {
		return nil, fmt.Errorf("native: block supports batch 1, got %d", batch)
	}

	n1, err := b.inputNorm.Forward(x)
	if err != nil {
		return nil, err
	}

	q, err := b.projectHeads(b.qProj, n1, seq, b.numHeads)
	if err != nil {
		return nil, fmt.Errorf("native: q projection: %w", err)
	}

	k, err := b.projectHeads(b.kProj, n1, seq, b.numKVHeads)
	if err != nil {
		return nil, fmt.Errorf("native: k projection: %w", err)
	}

	v, err := b.projectHeads(b.vProj, n1, seq, b.numKVHeads)
	if err != nil {
		return nil, fmt.Errorf("native: v projection: %w", err)
	}

	q, err = ops.RoPE(q, rope.Cos, rope.Sin, pos)
	if err != nil {
		return nil, fmt.Errorf("native: rope q: %w", err)
	}

	k, err = ops.RoPE(k, rope.Cos, rope.Sin, pos)
	if err != nil {
		return nil, fmt.Errorf("native: rope k: %w", err)
	}

	if err := state.appendKV(k, v); err != nil {
		return nil, err
	}

	kAll, err := ops.RepeatKV(state.kCache, b.numHeads)
	if err != nil {
		return nil, err
	}

	vAll, err := ops.RepeatKV(state.vCache, b.numHeads)
	if err != nil {
		return nil, err
	}

	attn, err := ops.Attention(q, kAll, vAll, true, pos)
	if err != nil {
		return nil, err
	}

	// [1, H, T, Dh] -> [1, T, H*Dh]
	attn, err = attn.Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	attn, err = attn.Reshape([]int64{1, seq, b.numHeads * b.headDim})
	if err != nil {
		return nil, err
	}

	attnOut, err := b.oProj.Forward(attn)
	if err != nil {
		return nil, fmt.Errorf("native: o projection: %w", err)
	}

	x, err = addSameShape(x, attnOut)
	if err != nil {
		return nil, err
	}

	n2, err := b.postNorm.Forward(x)
	if err != nil {
		return nil, err
	}

	mlpOut, err := ops.GatedMLP(n2,
		b.gateProj.Weight, b.gateProj.Bias,
		b.upProj.Weight, b.upProj.Bias,
		b.downProj.Weight, b.downProj.Bias)
	if err != nil {
		return nil, err
	}

	return addSameShape(x, mlpOut)
}

// projectHeads applies proj to x [1, T, D] and reshapes to [1, heads, T, headDim].
func (b *TransformerBlock) projectHeads(proj *Linear, x *tensor.Tensor, seq, heads int64) (*tensor.Tensor, error) {
	h, err := proj.Forward(x)
	if err != nil {
		return nil, err
	}

	h, err = h.Reshape([]int64{1, seq, heads, b.headDim})
	if err != nil {
		return nil, err
	}

	return h.Transpose(1, 2)
}
