package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-qwen-tts/internal/runtime/tensor"
)

// GatedMLP computes down(silu(gate(x)) * up(x)), the SwiGLU feed-forward
// used by the talker blocks. Weights are [out, in]; biases may be nil.
func GatedMLP(x, wGate, bGate, wUp, bUp, wDown, bDown *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("ops: gated mlp input is nil")
	}

	gate, err := x.Linear(wGate, bGate)
	if err != nil {
		return nil, fmt.Errorf("ops: gated mlp gate projection: %w", err)
	}

	up, err := x.Linear(wUp, bUp)
	if err != nil {
		return nil, fmt.Errorf("ops: gated mlp up projection: %w", err)
	}

	gateData := gate.RawData()
	upData := up.RawData()

	for i, v := range gateData {
		gateData[i] = SiLU(v) * upData[i]
	}

	out, err := gate.Linear(wDown, bDown)
	if err != nil {
		return nil, fmt.Errorf("ops: gated mlp down projection: %w", err)
	}

	return out, nil
}

// MLP computes linear(silu(linear(x))), the plain two-layer feed-forward.
func MLP(x, w1, b1, w2, b2 *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("ops: mlp input is nil")
	}

	h, err := x.Linear(w1, b1)
	if err != nil {
		return nil, fmt.Errorf("ops: mlp first linear: %w", err)
	}

	hData := h.RawData()
	for i, v := range hData {
		hData[i] = SiLU(v)
	}

	out, err := h.Linear(w2, b2)
	if err != nil {
		return nil, fmt.Errorf("ops: mlp second linear: %w", err)
	}

	return out, nil
}

// SiLU is x * sigmoid(x).
func SiLU(x float32) float32 {
	return x / (1 + float32(math.Exp(float64(-x))))
}

// ELU with alpha=1: x for x > 0, exp(x)-1 otherwise.
func ELU(x float32) float32 {
	if x > 0 {
		return x
	}

	return float32(math.Expm1(float64(x)))
}

// Snake is the periodic activation x + sin^2(alpha*x)/beta. beta must be
// non-zero; callers clamp tiny magnitudes before dispatch.
func Snake(x, alpha, beta float32) float32 {
	s := float32(math.Sin(float64(alpha * x)))

	return x + s*s/beta
}

// ApplyUnary maps f over every element in place and returns x.
func ApplyUnary(x *tensor.Tensor, f func(float32) float32) *tensor.Tensor {
	data := x.RawData()
	for i, v := range data {
		data[i] = f(v)
	}

	return x
}
