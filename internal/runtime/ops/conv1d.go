package ops

import (
	"errors"
	"fmt"

	"github.com/example/go-qwen-tts/internal/runtime/tensor"
)

// Conv1D performs a deterministic CPU Conv1d.
// input: [batch, in_channels, length]
// kernel: [out_channels, in_channels/groups, kernel_size]
// Padding is symmetric zero padding on both ends.
func Conv1D(input, kernel, bias *tensor.Tensor, stride, padding, dilation, groups int64) (*tensor.Tensor, error) {
	p, out, biasData, err := prepareConv1D(input, kernel, bias, stride, padding, dilation, groups)
	if err != nil {
		return nil, err
	}

	inputData := input.RawData()
	kernelData := kernel.RawData()
	outData := out.RawData()

	for b := range p.batch {
		for oc := range p.outChannels {
			g := oc / p.outPerGroup
			inStart := g * p.inPerGroup

			for ox := range p.outLength {
				sum := float32(0)
				if biasData != nil {
					sum = biasData[oc]
				}

				for ic := range p.inPerGroup {
					inC := inStart + ic
					inBase := (b*p.inChannels + inC) * p.length
					kBase := (oc*p.kInChannels + ic) * p.kernelSize

					for kx := range p.kernelSize {
						inPos := ox*stride - padding + kx*dilation
						if inPos < 0 || inPos >= p.length {
							continue
						}

						sum += inputData[inBase+inPos] * kernelData[kBase+kx]
					}
				}

				outData[(b*p.outChannels+oc)*p.outLength+ox] = sum
			}
		}
	}

	return out, nil
}

// Conv1DCausal applies Conv1D with asymmetric left-only padding so that each
// output position depends only on current and past inputs. The left pad is
// (kernelSize-1)*dilation - (stride-1); with stride 1 this keeps the output
// length equal to the input length.
func Conv1DCausal(input, kernel, bias *tensor.Tensor, stride, dilation, groups int64) (*tensor.Tensor, error) {
	if input == nil || kernel == nil {
		return nil, errors.New("ops: causal conv1d requires non-nil input/kernel")
	}

	kShape := kernel.Shape()
	if len(kShape) != 3 {
		return nil, fmt.Errorf("ops: causal conv1d kernel must be rank 3, got %v", kShape)
	}

	if stride <= 0 || dilation <= 0 {
		return nil, errors.New("ops: causal conv1d stride/dilation must be > 0")
	}

	leftPad := (kShape[2]-1)*dilation - (stride - 1)
	if leftPad < 0 {
		leftPad = 0
	}

	padded, err := padLeft(input, leftPad)
	if err != nil {
		return nil, fmt.Errorf("ops: causal conv1d pad: %w", err)
	}

	return Conv1D(padded, kernel, bias, stride, 0, dilation, groups)
}

// padLeft prepends n zeros along the last dimension of a rank-3 tensor.
func padLeft(x *tensor.Tensor, n int64) (*tensor.Tensor, error) {
	if n == 0 {
		return x, nil
	}

	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("ops: pad expects rank 3 input, got %v", shape)
	}

	pad, err := tensor.Zeros([]int64{shape[0], shape[1], n})
	if err != nil {
		return nil, err
	}

	return tensor.Concat([]*tensor.Tensor{pad, x}, 2)
}

type conv1DParams struct {
	batch       int64
	inChannels  int64
	length      int64
	outChannels int64
	kInChannels int64
	kernelSize  int64
	outLength   int64
	inPerGroup  int64
	outPerGroup int64
}

func prepareConv1D(
	input, kernel, bias *tensor.Tensor,
	stride, padding, dilation, groups int64,
) (conv1DParams, *tensor.Tensor, []float32, error) {
	if input == nil || kernel == nil {
		return conv1DParams{}, nil, nil, errors.New("ops: conv1d requires non-nil input/kernel")
	}

	if stride <= 0 || dilation <= 0 || groups <= 0 {
		return conv1DParams{}, nil, nil, errors.New("ops: conv1d stride/dilation/groups must be > 0")
	}

	inShape := input.Shape()
	kShape := kernel.Shape()

	if len(inShape) != 3 || len(kShape) != 3 {
		return conv1DParams{}, nil, nil, fmt.Errorf("ops: conv1d expects input/kernel rank 3, got %v and %v", inShape, kShape)
	}

	p := conv1DParams{
		batch:       inShape[0],
		inChannels:  inShape[1],
		length:      inShape[2],
		outChannels: kShape[0],
		kInChannels: kShape[1],
		kernelSize:  kShape[2],
	}

	if p.inChannels%groups != 0 || p.outChannels%groups != 0 {
		return conv1DParams{}, nil, nil, fmt.Errorf("ops: conv1d channels not divisible by groups (%d, %d, groups=%d)", p.inChannels, p.outChannels, groups)
	}

	if p.kInChannels != p.inChannels/groups {
		return conv1DParams{}, nil, nil, fmt.Errorf("ops: conv1d kernel in_channels/groups mismatch: got %d want %d", p.kInChannels, p.inChannels/groups)
	}

	p.inPerGroup = p.inChannels / groups
	p.outPerGroup = p.outChannels / groups

	if bias != nil {
		bShape := bias.Shape()
		if len(bShape) != 1 || bShape[0] != p.outChannels {
			return conv1DParams{}, nil, nil, fmt.Errorf("ops: conv1d bias shape %v does not match out_channels %d", bShape, p.outChannels)
		}
	}

	p.outLength = (p.length+2*padding-dilation*(p.kernelSize-1)-1)/stride + 1
	if p.outLength <= 0 {
		return conv1DParams{}, nil, nil, fmt.Errorf("ops: conv1d produced non-positive output length %d", p.outLength)
	}

	out, err := tensor.Zeros([]int64{p.batch, p.outChannels, p.outLength})
	if err != nil {
		return conv1DParams{}, nil, nil, err
	}

	var biasData []float32
	if bias != nil {
		biasData = bias.RawData()
	}

	return p, out, biasData, nil
}
