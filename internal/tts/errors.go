package tts

import (
	"errors"
	"fmt"

	"github.com/example/go-qwen-tts/internal/native"
	"github.com/example/go-qwen-tts/internal/text"
)

// Phase names the pipeline stage an error originated from.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseParse    Phase = "parse"
	PhaseTokenize Phase = "tokenize"
	PhaseGenerate Phase = "generate"
	PhaseDecode   Phase = "decode"
)

// Error wraps a failure with the pipeline phase it occurred in.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tts: %s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// phaseErr wraps err in an *Error unless it is nil.
func phaseErr(phase Phase, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Phase: phase, Err: err}
}

var (
	// ErrNotReady is returned when generation is requested before the model
	// is loaded, or while another operation owns the engine.
	ErrNotReady = errors.New("tts: engine is not ready")
	// ErrDecoderUnavailable is returned when the loaded checkpoint ships no
	// codec decoder, so codes cannot be turned into audio.
	ErrDecoderUnavailable = errors.New("tts: codec decoder unavailable in this checkpoint")
	// ErrEmptyText mirrors the text package sentinel for callers that only
	// import tts.
	ErrEmptyText = text.ErrEmptyText
	// ErrNoFrames mirrors the native sentinel: generation stopped before the
	// first frame.
	ErrNoFrames = native.ErrNoFrames
)
