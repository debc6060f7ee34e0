package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadSynthText(t *testing.T) {
	got, err := readSynthText("hello", nil)
	if err != nil || got != "hello" {
		t.Fatalf("got %q, %v; want hello", got, err)
	}

	got, err = readSynthText("", strings.NewReader("  piped text \n"))
	if err != nil || got != "piped text" {
		t.Fatalf("got %q, %v; want piped text", got, err)
	}

	if _, err := readSynthText("", strings.NewReader("   ")); err == nil {
		t.Fatal("expected error for empty stdin")
	}
}

func TestBuildSynthesisChunks(t *testing.T) {
	chunks, err := buildSynthesisChunks("One. Two. Three.", true, 10)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %v", len(chunks), chunks)
	}

	chunks, err = buildSynthesisChunks("One. Two.", false, 4)
	if err != nil || len(chunks) != 1 {
		t.Fatalf("unchunked: got %v, %v", chunks, err)
	}

	if _, err := buildSynthesisChunks("   ", true, 10); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestWriteSynthOutputStdout(t *testing.T) {
	var buf bytes.Buffer

	if err := writeSynthOutput("-", []byte("RIFF"), &buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	if buf.String() != "RIFF" {
		t.Fatalf("stdout got %q", buf.String())
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Fatalf("got %q, want b", got)
	}

	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
