package text

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello world", "hello world"},
		{"trims", "  hello  ", "hello"},
		{"crlf", "one\r\ntwo", "one two"},
		{"bare cr", "one\rtwo", "one two"},
		{"collapses runs", "a  \t b\n\n c", "a b c"},
		{"unicode spaces", "a b", "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if err != nil {
				t.Fatalf("Normalize(%q): %v", tt.input, err)
			}

			if got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "\r\n\t"} {
		if _, err := Normalize(input); !errors.Is(err, ErrEmptyText) {
			t.Fatalf("Normalize(%q): got %v, want ErrEmptyText", input, err)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("One. Two! Three? And a tail")

	want := []string{"One.", "Two!", "Three?", "And a tail"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestChunkBySentence(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxChars int
		want     []string
	}{
		{"no limit", "One. Two.", 0, []string{"One. Two."}},
		{"single sentence", "Only one here.", 40, []string{"Only one here."}},
		{"groups within limit", "One. Two. Three.", 10, []string{"One. Two.", "Three."}},
		{"oversized sentence kept whole", "This sentence is far too long to fit. Ok.", 10,
			[]string{"This sentence is far too long to fit.", "Ok."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkBySentence(tt.input, tt.maxChars)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
