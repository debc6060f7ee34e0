// Package audio encodes synthesized samples as WAV and applies optional
// post-processing filters.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// Output format constants. The sample rate comes from the codec config; the
// container is always mono 16-bit PCM.
const (
	DefaultSampleRate = 24000
	Channels          = 1
	BitDepth          = 16
)

// ErrFormatMismatch is returned when a decoded WAV does not match the
// expected format.
var ErrFormatMismatch = errors.New("audio: WAV format mismatch")

// EncodeWAV encodes float32 PCM samples in [-1, 1] as a mono 16-bit WAV
// byte slice at the given sample rate.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, errors.New("audio: no samples to encode")
	}

	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	var buf bytes.Buffer

	// wav.NewEncoder requires an io.WriteSeeker; bytes.Buffer is not one.
	sw := &seekBuffer{buf: &buf}

	enc := wav.NewEncoder(sw, sampleRate, BitDepth, Channels, 1) // 1 = PCM

	pcm := &goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: Channels},
		SourceBitDepth: BitDepth,
	}

	if err := enc.Write(pcm); err != nil {
		return nil, fmt.Errorf("audio: write PCM: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: close encoder: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteWAVFile encodes samples and writes the result to path.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("audio: write %s: %w", path, err)
	}

	return nil
}

// DecodeWAV decodes WAV bytes and returns float32 PCM samples. It validates
// mono 16-bit PCM at the given sample rate (0 accepts any rate).
func DecodeWAV(data []byte, wantSampleRate int) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("audio: empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("audio: invalid WAV file")
	}

	if wantSampleRate > 0 && dec.SampleRate != uint32(wantSampleRate) {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, dec.SampleRate, wantSampleRate)
	}

	if dec.NumChans != Channels {
		return nil, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, dec.NumChans, Channels)
	}

	if dec.BitDepth != BitDepth {
		return nil, fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, dec.BitDepth, BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: read PCM data: %w", err)
	}

	return buf.Data, nil
}

// seekBuffer wraps a bytes.Buffer to satisfy io.WriteSeeker so the WAV
// encoder can patch the header after writing the data chunk.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n

		return n, err
	}

	data := s.buf.Bytes()

	n := copy(data[s.pos:], p)
	if n < len(p) {
		data = append(data, p[n:]...)
		s.buf.Reset()
		s.buf.Write(data)
		n = len(p)
	}

	s.pos += n

	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int

	switch whence {
	case 0: // io.SeekStart
		pos = int(offset)
	case 1: // io.SeekCurrent
		pos = s.pos + int(offset)
	case 2: // io.SeekEnd
		pos = s.buf.Len() + int(offset)
	}

	if pos < 0 {
		return 0, errors.New("audio: seek before start")
	}

	s.pos = pos

	return int64(pos), nil
}
