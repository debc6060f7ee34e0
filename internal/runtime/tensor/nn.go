package tensor

import (
	"errors"
	"fmt"
	"math"
)

// BroadcastAdd returns t + other with numpy-style broadcasting
// (right-aligned, dimensions must match or be 1).
func (t *Tensor) BroadcastAdd(other *Tensor) (*Tensor, error) {
	return t.broadcastBinary(other, "add", func(a, b float32) float32 { return a + b })
}

// BroadcastMul returns t * other with numpy-style broadcasting.
func (t *Tensor) BroadcastMul(other *Tensor) (*Tensor, error) {
	return t.broadcastBinary(other, "mul", func(a, b float32) float32 { return a * b })
}

func (t *Tensor) broadcastBinary(other *Tensor, name string, op func(a, b float32) float32) (*Tensor, error) {
	if t == nil || other == nil {
		return nil, fmt.Errorf("tensor: %s on nil tensor", name)
	}

	outShape, err := broadcastShape(t.shape, other.shape)
	if err != nil {
		return nil, fmt.Errorf("tensor: %s: %w", name, err)
	}

	// Fast path: identical shapes.
	if sameShape(t.shape, other.shape) {
		outData := make([]float32, len(t.data))
		for i := range outData {
			outData[i] = op(t.data[i], other.data[i])
		}

		return newOwned(outData, outShape), nil
	}

	total, err := elemCount(outShape)
	if err != nil {
		return nil, err
	}

	rank := len(outShape)
	aStrides := broadcastStrides(t.shape, outShape)
	bStrides := broadcastStrides(other.shape, outShape)
	outStrides := computeStrides(outShape)
	coord := make([]int64, rank)
	outData := make([]float32, total)

	for i := range outData {
		linearToCoord(int64(i), outShape, outStrides, coord)
		outData[i] = op(t.data[coordToLinear(coord, aStrides)], other.data[coordToLinear(coord, bStrides)])
	}

	return newOwned(outData, outShape), nil
}

// broadcastShape computes the right-aligned broadcast result shape.
func broadcastShape(a, b []int64) ([]int64, error) {
	rank := max(len(a), len(b))
	out := make([]int64, rank)

	for i := range rank {
		da, db := int64(1), int64(1)
		if i >= rank-len(a) {
			da = a[i-(rank-len(a))]
		}

		if i >= rank-len(b) {
			db = b[i-(rank-len(b))]
		}

		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", a, b)
		}
	}

	return out, nil
}

// broadcastStrides returns strides for shape expanded to outShape, with 0 on
// broadcast dimensions.
func broadcastStrides(shape, outShape []int64) []int64 {
	base := computeStrides(shape)
	out := make([]int64, len(outShape))
	offset := len(outShape) - len(shape)

	for i := range outShape {
		if i < offset {
			out[i] = 0
			continue
		}

		if shape[i-offset] == 1 && outShape[i] != 1 {
			out[i] = 0
			continue
		}

		out[i] = base[i-offset]
	}

	return out
}

// Softmax applies a numerically stable softmax over the last dimension.
func (t *Tensor) Softmax() (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: softmax on nil tensor")
	}

	if len(t.shape) == 0 {
		return nil, errors.New("tensor: softmax requires rank >= 1")
	}

	width := int(t.shape[len(t.shape)-1])
	if width == 0 {
		return nil, errors.New("tensor: softmax over empty dimension")
	}

	outData := make([]float32, len(t.data))

	for base := 0; base < len(t.data); base += width {
		row := t.data[base : base+width]
		out := outData[base : base+width]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		sum := float64(0)

		for i, v := range row {
			e := math.Exp(float64(v - maxVal))
			out[i] = float32(e)
			sum += e
		}

		inv := float32(1 / sum)
		for i := range out {
			out[i] *= inv
		}
	}

	return newOwned(outData, append([]int64(nil), t.shape...)), nil
}

// LayerNorm normalizes over the last dimension with learned weight and bias.
func (t *Tensor) LayerNorm(weight, bias *Tensor, eps float32) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: layernorm on nil tensor")
	}

	if len(t.shape) == 0 {
		return nil, errors.New("tensor: layernorm requires rank >= 1")
	}

	width := int(t.shape[len(t.shape)-1])
	if err := checkNormParam(weight, width, "layernorm weight"); err != nil {
		return nil, err
	}

	if bias != nil {
		if err := checkNormParam(bias, width, "layernorm bias"); err != nil {
			return nil, err
		}
	}

	outData := make([]float32, len(t.data))

	for base := 0; base < len(t.data); base += width {
		row := t.data[base : base+width]
		out := outData[base : base+width]

		mean := float64(0)
		for _, v := range row {
			mean += float64(v)
		}

		mean /= float64(width)

		variance := float64(0)

		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}

		variance /= float64(width)
		inv := 1 / math.Sqrt(variance+float64(eps))

		for i, v := range row {
			y := float32((float64(v) - mean) * inv)
			if weight != nil {
				y *= weight.data[i]
			}

			if bias != nil {
				y += bias.data[i]
			}

			out[i] = y
		}
	}

	return newOwned(outData, append([]int64(nil), t.shape...)), nil
}

// RMSNorm normalizes over the last dimension by the root mean square:
// y = x * weight / sqrt(mean(x^2) + eps). No mean subtraction, no bias.
func (t *Tensor) RMSNorm(weight *Tensor, eps float32) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: rmsnorm on nil tensor")
	}

	if len(t.shape) == 0 {
		return nil, errors.New("tensor: rmsnorm requires rank >= 1")
	}

	width := int(t.shape[len(t.shape)-1])
	if err := checkNormParam(weight, width, "rmsnorm weight"); err != nil {
		return nil, err
	}

	outData := make([]float32, len(t.data))

	for base := 0; base < len(t.data); base += width {
		row := t.data[base : base+width]
		out := outData[base : base+width]

		sumSq := float64(0)
		for _, v := range row {
			sumSq += float64(v) * float64(v)
		}

		inv := 1 / math.Sqrt(sumSq/float64(width)+float64(eps))

		for i, v := range row {
			y := float32(float64(v) * inv)
			if weight != nil {
				y *= weight.data[i]
			}

			out[i] = y
		}
	}

	return newOwned(outData, append([]int64(nil), t.shape...)), nil
}

func checkNormParam(p *Tensor, width int, what string) error {
	if p == nil {
		return nil
	}

	if len(p.shape) != 1 || int(p.shape[0]) != width {
		return fmt.Errorf("tensor: %s shape %v does not match feature width %d", what, p.shape, width)
	}

	return nil
}

// MatMul multiplies two tensors over their trailing two dimensions. Both
// operands must share identical leading (batch) dimensions, or the second
// operand may be rank 2 and is then applied to every batch of the first.
func (t *Tensor) MatMul(other *Tensor) (*Tensor, error) {
	if t == nil || other == nil {
		return nil, errors.New("tensor: matmul on nil tensor")
	}

	if len(t.shape) < 2 || len(other.shape) < 2 {
		return nil, fmt.Errorf("tensor: matmul requires rank >= 2, got %v x %v", t.shape, other.shape)
	}

	m := t.shape[len(t.shape)-2]
	k := t.shape[len(t.shape)-1]
	k2 := other.shape[len(other.shape)-2]
	n := other.shape[len(other.shape)-1]

	if k != k2 {
		return nil, fmt.Errorf("tensor: matmul inner dimensions %d and %d do not match (%v x %v)", k, k2, t.shape, other.shape)
	}

	aBatch := t.shape[:len(t.shape)-2]
	bBatch := other.shape[:len(other.shape)-2]

	sharedBatch := len(bBatch) == 0 || sameShape(aBatch, bBatch)
	if !sharedBatch {
		return nil, fmt.Errorf("tensor: matmul batch dimensions %v and %v do not match", aBatch, bBatch)
	}

	batch := int64(1)
	for _, d := range aBatch {
		batch *= d
	}

	outShape := append(append([]int64(nil), aBatch...), m, n)
	outData := make([]float32, batch*m*n)

	aStep := m * k
	bStep := k * n
	if len(bBatch) == 0 {
		bStep = 0
	}

	for b := range batch {
		aBase := b * aStep
		bBase := b * int64(bStep)

		for i := range m {
			aRow := t.data[aBase+i*k : aBase+(i+1)*k]
			outRow := outData[(b*m+i)*n : (b*m+i+1)*n]

			for kk := range k {
				av := aRow[kk]
				if av == 0 {
					continue
				}

				bRow := other.data[bBase+kk*n : bBase+(kk+1)*n]
				for j := range outRow {
					outRow[j] += av * bRow[j]
				}
			}
		}
	}

	return newOwned(outData, outShape), nil
}

// Linear applies y = x @ weight^T + bias with weight in [outFeatures,
// inFeatures] layout, matching safetensors checkpoints.
func (t *Tensor) Linear(weight, bias *Tensor) (*Tensor, error) {
	if t == nil || weight == nil {
		return nil, errors.New("tensor: linear on nil tensor")
	}

	if len(t.shape) == 0 {
		return nil, errors.New("tensor: linear requires rank >= 1")
	}

	if len(weight.shape) != 2 {
		return nil, fmt.Errorf("tensor: linear weight must be rank 2, got %v", weight.shape)
	}

	in := t.shape[len(t.shape)-1]
	outF := weight.shape[0]

	if weight.shape[1] != in {
		return nil, fmt.Errorf("tensor: linear weight %v does not match input width %d", weight.shape, in)
	}

	if bias != nil {
		if len(bias.shape) != 1 || bias.shape[0] != outF {
			return nil, fmt.Errorf("tensor: linear bias %v does not match out features %d", bias.shape, outF)
		}
	}

	rows := int64(len(t.data)) / in
	outShape := append([]int64(nil), t.shape...)
	outShape[len(outShape)-1] = outF
	outData := make([]float32, rows*outF)

	for r := range rows {
		xRow := t.data[r*in : (r+1)*in]
		outRow := outData[r*outF : (r+1)*outF]

		for o := range outF {
			wRow := weight.data[o*in : (o+1)*in]
			acc := DotProduct(xRow, wRow)

			if bias != nil {
				acc += bias.data[o]
			}

			outRow[o] = acc
		}
	}

	return newOwned(outData, outShape), nil
}
