// Package tokenizer turns input text into the token ids the talker consumes.
// The production implementation wraps a SentencePiece model shipped next to
// the checkpoint.
package tokenizer

// Tokenizer encodes text into token ids.
type Tokenizer interface {
	Encode(text string) ([]int64, error)
}
