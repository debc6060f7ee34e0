package native

import (
	"fmt"

	"github.com/example/go-qwen-tts/internal/runtime/tensor"
)

// addSameShape adds b into a copy of a; shapes must match exactly.
func addSameShape(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("native: add requires non-nil tensors")
	}

	if !equalShape(a.Shape(), b.Shape()) {
		return nil, fmt.Errorf("native: add shape mismatch %v vs %v", a.Shape(), b.Shape())
	}

	out := a.Clone()
	outData := out.RawData()

	for i, v := range b.RawData() {
		outData[i] += v
	}

	return out, nil
}

// lastPosition slices [1, T, D] down to the final time step [1, 1, D].
func lastPosition(x *tensor.Tensor) (*tensor.Tensor, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("native: last position expects [B, T, D], got %v", shape)
	}

	return x.Narrow(1, shape[1]-1, 1)
}

// argmaxRow returns the index of the maximum value in a flat logits row.
func argmaxRow(logits []float32) int64 {
	best := 0

	for i, v := range logits[1:] {
		if v > logits[best] {
			best = i + 1
		}
	}

	return int64(best)
}
