package text

import "strings"

// ChunkBySentence splits text at sentence boundaries (., !, ?) and groups
// consecutive sentences into chunks of at most maxChars characters. A
// maxChars of 0 disables splitting. A single sentence longer than maxChars
// stays intact as its own chunk.
func ChunkBySentence(text string, maxChars int) []string {
	if maxChars <= 0 {
		return []string{text}
	}

	sentences := SplitSentences(text)
	if len(sentences) <= 1 {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	for _, s := range sentences {
		if current.Len() == 0 {
			current.WriteString(s)
			continue
		}

		if current.Len()+1+len(s) > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
			current.WriteString(s)
			continue
		}

		current.WriteByte(' ')
		current.WriteString(s)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

// SplitSentences splits text on sentence-ending punctuation, keeping the
// terminator attached. Empty segments are dropped.
func SplitSentences(text string) []string {
	var sentences []string

	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		s := strings.TrimSpace(text[start : i+1])
		if s != "" {
			sentences = append(sentences, s)
		}

		start = i + 1
	}

	if start < len(text) {
		s := strings.TrimSpace(text[start:])
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	return sentences
}
