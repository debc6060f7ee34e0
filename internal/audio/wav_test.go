package audio

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	samples := make([]float32, 2400)
	for i := range samples {
		samples[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/DefaultSampleRate))
	}

	data, err := EncodeWAV(samples, DefaultSampleRate)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeWAV(data, DefaultSampleRate)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(decoded) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(decoded), len(samples))
	}

	// 16-bit quantization bounds the round-trip error.
	for i := range samples {
		if diff := math.Abs(float64(decoded[i]) - float64(samples[i])); diff > 1e-3 {
			t.Fatalf("sample %d: got %v, want %v (diff %v)", i, decoded[i], samples[i], diff)
		}
	}
}

func TestEncodeRejectsEmpty(t *testing.T) {
	if _, err := EncodeWAV(nil, DefaultSampleRate); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV([]byte("not a wav"), 0); err == nil {
		t.Fatal("expected error for invalid data")
	}

	if _, err := DecodeWAV(nil, 0); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestDecodeRejectsWrongSampleRate(t *testing.T) {
	data, err := EncodeWAV([]float32{0.1, 0.2, 0.3}, 16000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = DecodeWAV(data, DefaultSampleRate)
	if !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("got %v, want ErrFormatMismatch", err)
	}
}

func TestWriteWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	if err := WriteWAVFile(path, []float32{0, 0.25, -0.25}, DefaultSampleRate); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	if _, err := DecodeWAV(data, DefaultSampleRate); err != nil {
		t.Fatalf("decode written file: %v", err)
	}
}
