package tokenizer

import (
	"errors"
	"fmt"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
)

// ErrEmptyPath is returned when NewSentencePiece is called with an empty path.
var ErrEmptyPath = errors.New("tokenizer: model path must not be empty")

// SentencePiece implements Tokenizer with a pure-Go SentencePiece model.
type SentencePiece struct {
	proc gosp.Sentencepiece
}

// NewSentencePiece loads a SentencePiece model file.
func NewSentencePiece(modelPath string) (*SentencePiece, error) {
	if modelPath == "" {
		return nil, ErrEmptyPath
	}

	proc, err := gosp.NewSentencepieceFromFile(modelPath, false)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load sentencepiece model %q: %w", modelPath, err)
	}

	return &SentencePiece{proc: proc}, nil
}

// Encode tokenizes text into token ids.
func (t *SentencePiece) Encode(text string) ([]int64, error) {
	if text == "" {
		return []int64{}, nil
	}

	ids := t.proc.TokenizeToIDs(text)

	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}

	return out, nil
}
