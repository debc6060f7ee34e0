package audio

// PeakNormalize scales samples in place so the peak amplitude reaches
// target (e.g. 0.95). Silent input is returned unchanged.
func PeakNormalize(samples []float32, target float32) []float32 {
	var peak float32

	for _, v := range samples {
		if v < 0 {
			v = -v
		}

		if v > peak {
			peak = v
		}
	}

	if peak == 0 || target <= 0 {
		return samples
	}

	gain := target / peak
	for i := range samples {
		samples[i] *= gain
	}

	return samples
}

// DCBlock removes DC offset in place with a one-pole high-pass filter.
func DCBlock(samples []float32) []float32 {
	const r = 0.995

	var prevIn, prevOut float32

	for i, v := range samples {
		out := v - prevIn + r*prevOut
		prevIn = v
		prevOut = out
		samples[i] = out
	}

	return samples
}

// FadeIn applies a linear fade-in ramp in place over ms milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeSamples(len(samples), sampleRate, ms)

	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}

	return samples
}

// FadeOut applies a linear fade-out ramp in place over ms milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeSamples(len(samples), sampleRate, ms)
	total := len(samples)

	for i := 0; i < n; i++ {
		samples[total-1-i] *= float32(i) / float32(n)
	}

	return samples
}

func fadeSamples(total, sampleRate int, ms float64) int {
	if sampleRate <= 0 || ms <= 0 {
		return 0
	}

	n := int(float64(sampleRate) * ms / 1000)
	if n > total {
		n = total
	}

	return n
}
