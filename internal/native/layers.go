package native

import (
	"errors"
	"fmt"

	"github.com/example/go-qwen-tts/internal/runtime/tensor"
)

type Linear struct {
	Weight *tensor.Tensor // [out, in]
	Bias   *tensor.Tensor // optional [out]
}

func loadLinear(vb *VarBuilder, name string, withBias bool) (*Linear, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	if len(w.Shape()) != 2 {
		return nil, fmt.Errorf("native: linear %q weight must be rank-2, got %v", name, w.Shape())
	}

	var b *tensor.Tensor

	if withBias {
		t, ok, err := vb.TensorMaybe(name + ".bias")
		if err != nil {
			return nil, err
		}

		if ok {
			if len(t.Shape()) != 1 || t.Shape()[0] != w.Shape()[0] {
				return nil, fmt.Errorf("native: linear %q bias shape %v incompatible with weight %v", name, t.Shape(), w.Shape())
			}

			b = t
		}
	}

	return &Linear{Weight: w, Bias: b}, nil
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if l == nil || l.Weight == nil {
		return nil, errors.New("native: linear is not initialized")
	}

	return x.Linear(l.Weight, l.Bias)
}

// RMSNorm is the weight-only normalization used throughout the talker and
// the codec refinement stack.
type RMSNorm struct {
	Weight *tensor.Tensor
	Eps    float32
}

func loadRMSNorm(vb *VarBuilder, name string, eps float32) (*RMSNorm, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	if len(w.Shape()) != 1 {
		return nil, fmt.Errorf("native: rmsnorm %q weight must be rank-1, got %v", name, w.Shape())
	}

	return &RMSNorm{Weight: w, Eps: eps}, nil
}

func (n *RMSNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if n == nil || n.Weight == nil {
		return nil, errors.New("native: rmsnorm is not initialized")
	}

	return x.RMSNorm(n.Weight, n.Eps)
}

type LayerNorm struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
	Eps    float32
}

func loadLayerNorm(vb *VarBuilder, name string, eps float32) (*LayerNorm, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	b, err := vb.Tensor(name + ".bias")
	if err != nil {
		return nil, err
	}

	if len(w.Shape()) != 1 || len(b.Shape()) != 1 || w.Shape()[0] != b.Shape()[0] {
		return nil, fmt.Errorf("native: layernorm %q invalid shapes weight=%v bias=%v", name, w.Shape(), b.Shape())
	}

	return &LayerNorm{Weight: w, Bias: b, Eps: eps}, nil
}

func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if ln == nil || ln.Weight == nil || ln.Bias == nil {
		return nil, errors.New("native: layernorm is not initialized")
	}

	return x.LayerNorm(ln.Weight, ln.Bias, ln.Eps)
}

// Embedding is a row-lookup table [entries, dim].
type Embedding struct {
	Weight *tensor.Tensor
}

func loadEmbedding(vb *VarBuilder, name string) (*Embedding, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	if len(w.Shape()) != 2 {
		return nil, fmt.Errorf("native: embedding %q weight must be rank-2, got %v", name, w.Shape())
	}

	return &Embedding{Weight: w}, nil
}

// Forward gathers rows for ids, returning [1, len(ids), dim].
func (e *Embedding) Forward(ids []int64) (*tensor.Tensor, error) {
	if e == nil || e.Weight == nil {
		return nil, errors.New("native: embedding is not initialized")
	}

	if len(ids) == 0 {
		return nil, errors.New("native: embedding requires at least one id")
	}

	rows, err := e.Weight.Gather(0, ids)
	if err != nil {
		return nil, fmt.Errorf("native: embedding lookup: %w", err)
	}

	dim := e.Weight.Shape()[1]

	return rows.Reshape([]int64{1, int64(len(ids)), dim})
}

func (e *Embedding) Entries() int64 {
	return e.Weight.Shape()[0]
}

func (e *Embedding) Dim() int64 {
	return e.Weight.Shape()[1]
}
