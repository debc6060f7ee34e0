package tokenizer

import (
	"errors"
	"testing"
)

func TestNewSentencePieceEmptyPath(t *testing.T) {
	_, err := NewSentencePiece("")
	if !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("got %v, want ErrEmptyPath", err)
	}
}

func TestNewSentencePieceMissingFile(t *testing.T) {
	if _, err := NewSentencePiece("/nonexistent/tokenizer.model"); err == nil {
		t.Fatal("expected error for missing model file")
	}
}

func TestSentencePieceImplementsInterface(t *testing.T) {
	var _ Tokenizer = (*SentencePiece)(nil)
}
