package tensor

import (
	"errors"
	"fmt"
)

// Tensor is a dense, row-major float32 tensor. Model weights are loaded once
// and treated as read-only; activations are short-lived per generation step.
type Tensor struct {
	shape []int64
	data  []float32
}

// New creates a tensor that copies data and shape.
func New(data []float32, shape []int64) (*Tensor, error) {
	total, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	if len(data) != total {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v (%d elements)", len(data), shape, total)
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  append([]float32(nil), data...),
	}, nil
}

// newOwned wraps data and shape without copying. The caller gives up
// ownership of both slices; len(data) must equal the shape element count.
func newOwned(data []float32, shape []int64) *Tensor {
	return &Tensor{shape: shape, data: data}
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int64) (*Tensor, error) {
	total, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  make([]float32, total),
	}, nil
}

// Full creates a tensor filled with value.
func Full(shape []int64, value float32) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}

	for i := range t.data {
		t.data[i] = value
	}

	return t, nil
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() []int64 {
	if t == nil {
		return nil
	}

	return append([]int64(nil), t.shape...)
}

// Dim returns the size of a single dimension; dim may be negative.
func (t *Tensor) Dim(dim int) (int64, error) {
	if t == nil {
		return 0, errors.New("tensor: dim on nil tensor")
	}

	d, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return 0, fmt.Errorf("tensor: dim: %w", err)
	}

	return t.shape[d], nil
}

func (t *Tensor) Rank() int {
	if t == nil {
		return 0
	}

	return len(t.shape)
}

func (t *Tensor) ElemCount() int {
	if t == nil {
		return 0
	}

	return len(t.data)
}

// Data returns a copy of the underlying values.
func (t *Tensor) Data() []float32 {
	if t == nil {
		return nil
	}

	return append([]float32(nil), t.data...)
}

// RawData returns the backing slice. Weight tensors must be treated as
// read-only; activation tensors may be mutated in place by their owner.
func (t *Tensor) RawData() []float32 {
	if t == nil {
		return nil
	}

	return t.data
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}

	return &Tensor{
		shape: append([]int64(nil), t.shape...),
		data:  append([]float32(nil), t.data...),
	}
}

// Reshape returns a new tensor with the same values and a different shape.
func (t *Tensor) Reshape(shape []int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: reshape on nil tensor")
	}

	total, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	if total != len(t.data) {
		return nil, fmt.Errorf("tensor: cannot reshape %v (%d elements) to %v (%d elements)", t.shape, len(t.data), shape, total)
	}

	return New(t.data, shape)
}

// Narrow slices the tensor along one dimension.
func (t *Tensor) Narrow(dim int, start, length int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: narrow on nil tensor")
	}

	d, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: narrow: %w", err)
	}

	if start < 0 || length < 0 || start+length > t.shape[d] {
		return nil, fmt.Errorf("tensor: narrow range [%d:%d] out of bounds for dim %d size %d", start, start+length, d, t.shape[d])
	}

	outShape := append([]int64(nil), t.shape...)
	outShape[d] = length

	inner := int64(1)
	for i := d + 1; i < len(t.shape); i++ {
		inner *= t.shape[i]
	}

	outer := int64(1)
	for i := range d {
		outer *= t.shape[i]
	}

	outData := make([]float32, outer*length*inner)
	srcDim := t.shape[d]

	for o := range outer {
		srcBase := (o*srcDim + start) * inner
		dstBase := o * length * inner
		copy(outData[dstBase:dstBase+length*inner], t.data[srcBase:srcBase+length*inner])
	}

	return newOwned(outData, outShape), nil
}

// Gather selects rows along dim by index.
func (t *Tensor) Gather(dim int, indices []int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: gather on nil tensor")
	}

	if len(indices) == 0 {
		return nil, errors.New("tensor: gather requires at least one index")
	}

	d, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: gather: %w", err)
	}

	for i, idx := range indices {
		if idx < 0 || idx >= t.shape[d] {
			return nil, fmt.Errorf("tensor: gather index %d (%d) out of range for dim %d size %d", i, idx, d, t.shape[d])
		}
	}

	outShape := append([]int64(nil), t.shape...)
	outShape[d] = int64(len(indices))

	inner := int64(1)
	for i := d + 1; i < len(t.shape); i++ {
		inner *= t.shape[i]
	}

	outer := int64(1)
	for i := range d {
		outer *= t.shape[i]
	}

	outData := make([]float32, outer*int64(len(indices))*inner)
	srcDim := t.shape[d]

	for o := range outer {
		for j, idx := range indices {
			srcBase := (o*srcDim + idx) * inner
			dstBase := (o*int64(len(indices)) + int64(j)) * inner
			copy(outData[dstBase:dstBase+inner], t.data[srcBase:srcBase+inner])
		}
	}

	return newOwned(outData, outShape), nil
}

// Transpose swaps two dimensions.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: transpose on nil tensor")
	}

	rank := len(t.shape)

	d1, err := normalizeDim(dim1, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: transpose dim1: %w", err)
	}

	d2, err := normalizeDim(dim2, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: transpose dim2: %w", err)
	}

	if d1 == d2 {
		return t.Clone(), nil
	}

	outShape := append([]int64(nil), t.shape...)
	outShape[d1], outShape[d2] = outShape[d2], outShape[d1]

	outData := make([]float32, len(t.data))
	srcStrides := computeStrides(t.shape)
	outStrides := computeStrides(outShape)
	outCoord := make([]int64, rank)
	srcCoord := make([]int64, rank)

	for i := range outData {
		linearToCoord(int64(i), outShape, outStrides, outCoord)
		copy(srcCoord, outCoord)
		srcCoord[d1], srcCoord[d2] = outCoord[d2], outCoord[d1]
		outData[i] = t.data[coordToLinear(srcCoord, srcStrides)]
	}

	return newOwned(outData, outShape), nil
}

// Concat joins tensors along dim. All non-concat dimensions must match.
func Concat(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("tensor: concat requires at least one tensor")
	}

	first := tensors[0]
	if first == nil {
		return nil, errors.New("tensor: concat tensor 0 is nil")
	}

	rank := len(first.shape)

	d, err := normalizeDim(dim, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: concat: %w", err)
	}

	outShape := append([]int64(nil), first.shape...)
	outShape[d] = 0

	for i, t := range tensors {
		if t == nil {
			return nil, fmt.Errorf("tensor: concat tensor %d is nil", i)
		}

		if len(t.shape) != rank {
			return nil, fmt.Errorf("tensor: concat tensor %d rank %d does not match rank %d", i, len(t.shape), rank)
		}

		for dd := range rank {
			if dd == d {
				continue
			}

			if t.shape[dd] != first.shape[dd] {
				return nil, fmt.Errorf("tensor: concat tensor %d shape %v does not match base shape %v on dim %d", i, t.shape, first.shape, dd)
			}
		}

		outShape[d] += t.shape[d]
	}

	out, err := Zeros(outShape)
	if err != nil {
		return nil, err
	}

	inner := int64(1)
	for i := d + 1; i < rank; i++ {
		inner *= outShape[i]
	}

	outer := int64(1)
	for i := range d {
		outer *= outShape[i]
	}

	outDim := outShape[d]

	for o := range outer {
		writePos := int64(0)

		for _, t := range tensors {
			span := t.shape[d] * inner
			srcBase := o * span
			dstBase := o*outDim*inner + writePos
			copy(out.data[dstBase:dstBase+span], t.data[srcBase:srcBase+span])
			writePos += span
		}
	}

	return out, nil
}
