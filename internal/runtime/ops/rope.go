package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-qwen-tts/internal/runtime/tensor"
)

// RoPETable holds precomputed rotary embedding tables, each shaped
// [maxSeq, headDim/2].
type RoPETable struct {
	Cos *tensor.Tensor
	Sin *tensor.Tensor
}

// BuildRoPETable precomputes cos/sin tables for rotary position embedding.
// Frequencies follow the geometric schedule theta^(-2i/headDim); row p holds
// cos(p*freq_i) and sin(p*freq_i) for i in [0, headDim/2).
func BuildRoPETable(maxSeq, headDim int64, theta float64) (*RoPETable, error) {
	if maxSeq <= 0 {
		return nil, fmt.Errorf("ops: rope table max sequence must be > 0, got %d", maxSeq)
	}

	if headDim <= 0 || headDim%2 != 0 {
		return nil, fmt.Errorf("ops: rope table head dim must be positive and even, got %d", headDim)
	}

	if theta <= 0 {
		return nil, fmt.Errorf("ops: rope table theta must be > 0, got %v", theta)
	}

	half := headDim / 2
	cosData := make([]float32, maxSeq*half)
	sinData := make([]float32, maxSeq*half)

	freqs := make([]float64, half)
	for i := range freqs {
		freqs[i] = math.Pow(theta, -2*float64(i)/float64(headDim))
	}

	for p := range maxSeq {
		base := p * half
		for i, f := range freqs {
			angle := float64(p) * f
			cosData[base+int64(i)] = float32(math.Cos(angle))
			sinData[base+int64(i)] = float32(math.Sin(angle))
		}
	}

	cos, err := tensor.New(cosData, []int64{maxSeq, half})
	if err != nil {
		return nil, err
	}

	sin, err := tensor.New(sinData, []int64{maxSeq, half})
	if err != nil {
		return nil, err
	}

	return &RoPETable{Cos: cos, Sin: sin}, nil
}

// RoPE applies rotary position embedding to the last dimension in interleaved
// pair format: (..., seq, dim) where dim must be even. cos/sin are expected
// as [maxSeq, dim/2]; pos is the absolute position of the first row.
func RoPE(x, cos, sin *tensor.Tensor, pos int64) (*tensor.Tensor, error) {
	if x == nil || cos == nil || sin == nil {
		return nil, errors.New("ops: rope requires non-nil x/cos/sin")
	}

	if pos < 0 {
		return nil, errors.New("ops: rope position must be >= 0")
	}

	xShape := x.Shape()
	if len(xShape) < 2 {
		return nil, fmt.Errorf("ops: rope requires rank >= 2 input, got %d", len(xShape))
	}

	seq := xShape[len(xShape)-2]
	dim := xShape[len(xShape)-1]

	if dim%2 != 0 {
		return nil, fmt.Errorf("ops: rope last dimension must be even, got %d", dim)
	}

	half := dim / 2
	cosShape := cos.Shape()
	sinShape := sin.Shape()

	if len(cosShape) != 2 || len(sinShape) != 2 {
		return nil, fmt.Errorf("ops: rope cos/sin must be rank 2, got %v and %v", cosShape, sinShape)
	}

	if cosShape[0] < pos+seq || sinShape[0] < pos+seq {
		return nil, fmt.Errorf("ops: rope cos/sin table too small for pos=%d seq=%d", pos, seq)
	}

	if cosShape[1] != half || sinShape[1] != half {
		return nil, fmt.Errorf("ops: rope cos/sin width mismatch, want %d got %d and %d", half, cosShape[1], sinShape[1])
	}

	out := x.Clone()
	outData := out.RawData()
	cosData := cos.RawData()
	sinData := sin.RawData()

	seqI := int(seq)
	dimI := int(dim)
	halfI := int(half)
	prefix := len(outData) / (seqI * dimI)

	for pre := range prefix {
		prefixBase := pre * seqI * dimI

		for t := range seqI {
			trigBase := int(pos+int64(t)) * halfI

			xBase := prefixBase + t*dimI
			for j := range halfI {
				i0 := xBase + 2*j
				i1 := i0 + 1
				a := outData[i0]
				b := outData[i1]
				c := cosData[trigBase+j]
				s := sinData[trigBase+j]
				outData[i0] = a*c - b*s
				outData[i1] = a*s + b*c
			}
		}
	}

	return out, nil
}
