package ops

import (
	"errors"
	"fmt"

	"github.com/example/go-qwen-tts/internal/runtime/tensor"
)

// ConvTranspose1D performs a deterministic CPU ConvTranspose1d.
// input: [batch, in_channels, length]
// kernel: [in_channels, out_channels/groups, kernel_size]
func ConvTranspose1D(input, kernel, bias *tensor.Tensor, stride, padding, outputPadding, dilation, groups int64) (*tensor.Tensor, error) {
	p, out, biasData, err := prepareConvTranspose1D(input, kernel, bias, stride, padding, outputPadding, dilation, groups)
	if err != nil {
		return nil, err
	}

	inputData := input.RawData()
	kernelData := kernel.RawData()
	outData := out.RawData()

	for b := range p.batch {
		for ic := range p.inChannels {
			g := ic / p.inPerGroup
			ocBase := g * p.outPerGroup
			inBase := (b*p.inChannels + ic) * p.inLength

			for ix := range p.inLength {
				inVal := inputData[inBase+ix]
				if inVal == 0 {
					continue
				}

				for ocg := range p.outPerGroup {
					oc := ocBase + ocg
					kBase := (ic*p.outPerGroup + ocg) * p.kernelSize
					outBase := (b*p.outChannels + oc) * p.outLength

					for kx := range p.kernelSize {
						outPos := ix*stride - padding + kx*dilation
						if outPos < 0 || outPos >= p.outLength {
							continue
						}

						outData[outBase+outPos] += inVal * kernelData[kBase+kx]
					}
				}
			}
		}
	}

	if biasData != nil {
		for b := range p.batch {
			for oc := range p.outChannels {
				base := (b*p.outChannels + oc) * p.outLength
				for ox := range p.outLength {
					outData[base+ox] += biasData[oc]
				}
			}
		}
	}

	return out, nil
}

// ConvTranspose1DCausal performs a transposed convolution and trims the
// trailing (kernelSize - stride) samples so the output depends only on
// current and past inputs. Output length is exactly inputLength * stride.
func ConvTranspose1DCausal(input, kernel, bias *tensor.Tensor, stride, groups int64) (*tensor.Tensor, error) {
	if input == nil || kernel == nil {
		return nil, errors.New("ops: causal convtranspose1d requires non-nil input/kernel")
	}

	kShape := kernel.Shape()
	if len(kShape) != 3 {
		return nil, fmt.Errorf("ops: causal convtranspose1d kernel must be rank 3, got %v", kShape)
	}

	if kShape[2] < stride {
		return nil, fmt.Errorf("ops: causal convtranspose1d kernel size %d must be >= stride %d", kShape[2], stride)
	}

	full, err := ConvTranspose1D(input, kernel, bias, stride, 0, 0, 1, groups)
	if err != nil {
		return nil, err
	}

	trim := kShape[2] - stride
	if trim == 0 {
		return full, nil
	}

	length, err := full.Dim(2)
	if err != nil {
		return nil, err
	}

	return full.Narrow(2, 0, length-trim)
}

type convTranspose1DParams struct {
	batch       int64
	inChannels  int64
	inLength    int64
	outChannels int64
	outPerGroup int64
	inPerGroup  int64
	kernelSize  int64
	outLength   int64
}

func prepareConvTranspose1D(
	input, kernel, bias *tensor.Tensor,
	stride, padding, outputPadding, dilation, groups int64,
) (convTranspose1DParams, *tensor.Tensor, []float32, error) {
	if input == nil || kernel == nil {
		return convTranspose1DParams{}, nil, nil, errors.New("ops: convtranspose1d requires non-nil input/kernel")
	}

	if stride <= 0 || dilation <= 0 || groups <= 0 {
		return convTranspose1DParams{}, nil, nil, errors.New("ops: convtranspose1d stride/dilation/groups must be > 0")
	}

	if outputPadding < 0 || outputPadding >= stride {
		return convTranspose1DParams{}, nil, nil, fmt.Errorf("ops: convtranspose1d output_padding must be in [0, stride), got %d", outputPadding)
	}

	inShape := input.Shape()

	kShape := kernel.Shape()
	if len(inShape) != 3 || len(kShape) != 3 {
		return convTranspose1DParams{}, nil, nil, fmt.Errorf("ops: convtranspose1d expects input/kernel rank 3, got %v and %v", inShape, kShape)
	}

	p := convTranspose1DParams{
		batch:       inShape[0],
		inChannels:  inShape[1],
		inLength:    inShape[2],
		outPerGroup: kShape[1],
		kernelSize:  kShape[2],
	}

	if kShape[0] != p.inChannels {
		return convTranspose1DParams{}, nil, nil, fmt.Errorf("ops: convtranspose1d kernel in_channels mismatch %d vs %d", kShape[0], p.inChannels)
	}

	if p.inChannels%groups != 0 {
		return convTranspose1DParams{}, nil, nil, fmt.Errorf("ops: convtranspose1d in_channels %d must be divisible by groups %d", p.inChannels, groups)
	}

	p.outChannels = p.outPerGroup * groups
	p.inPerGroup = p.inChannels / groups

	if bias != nil {
		bShape := bias.Shape()
		if len(bShape) != 1 || bShape[0] != p.outChannels {
			return convTranspose1DParams{}, nil, nil, fmt.Errorf("ops: convtranspose1d bias shape %v does not match out_channels %d", bShape, p.outChannels)
		}
	}

	p.outLength = (p.inLength-1)*stride - 2*padding + dilation*(p.kernelSize-1) + outputPadding + 1
	if p.outLength <= 0 {
		return convTranspose1DParams{}, nil, nil, fmt.Errorf("ops: convtranspose1d produced non-positive output length %d", p.outLength)
	}

	out, err := tensor.Zeros([]int64{p.batch, p.outChannels, p.outLength})
	if err != nil {
		return convTranspose1DParams{}, nil, nil, err
	}

	var biasData []float32
	if bias != nil {
		biasData = bias.RawData()
	}

	return p, out, biasData, nil
}
