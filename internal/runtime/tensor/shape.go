package tensor

import "fmt"

// elemCount validates a shape and returns the total element count.
func elemCount(shape []int64) (int, error) {
	total := int64(1)

	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("tensor: negative dimension %d at index %d in shape %v", d, i, shape)
		}

		total *= d
	}

	const maxElems = int64(1) << 31
	if total > maxElems {
		return 0, fmt.Errorf("tensor: shape %v exceeds element limit", shape)
	}

	return int(total), nil
}

// normalizeDim resolves a possibly-negative dimension index against rank.
func normalizeDim(dim, rank int) (int, error) {
	d := dim
	if d < 0 {
		d += rank
	}

	if d < 0 || d >= rank {
		return 0, fmt.Errorf("dimension %d out of range for rank %d", dim, rank)
	}

	return d, nil
}

// computeStrides returns row-major strides for shape.
func computeStrides(shape []int64) []int64 {
	strides := make([]int64, len(shape))
	stride := int64(1)

	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}

	return strides
}

// linearToCoord decomposes a linear offset into coord (caller-allocated).
func linearToCoord(linear int64, shape, strides []int64, coord []int64) {
	for i := range shape {
		if strides[i] == 0 {
			coord[i] = 0
			continue
		}

		coord[i] = linear / strides[i]
		linear -= coord[i] * strides[i]
	}
}

// coordToLinear composes a linear offset from coord.
func coordToLinear(coord, strides []int64) int64 {
	linear := int64(0)
	for i := range coord {
		linear += coord[i] * strides[i]
	}

	return linear
}

// sameShape reports whether two shapes are identical.
func sameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
