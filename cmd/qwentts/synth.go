package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-qwen-tts/internal/audio"
	"github.com/example/go-qwen-tts/internal/config"
	textpkg "github.com/example/go-qwen-tts/internal/text"
	"github.com/example/go-qwen-tts/internal/tts"
)

func newSynthCmd() *cobra.Command {
	var inputText string
	var out string
	var voice string
	var language string
	var chunk bool
	var maxChunkChars int

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			text, err := readSynthText(inputText, os.Stdin)
			if err != nil {
				return err
			}

			req := tts.Request{
				Text:        text,
				Voice:       firstNonEmpty(voice, cfg.TTS.Voice),
				Language:    firstNonEmpty(language, cfg.TTS.Language),
				MaxFrames:   cfg.TTS.MaxFrames,
				Temperature: float32(cfg.TTS.Temperature),
				Seed:        cfg.TTS.Seed,
			}

			engine := newEngineFromConfig(cfg)
			defer engine.Close()

			if err := engine.LoadModel(cmd.Context(), downloadProgress(os.Stderr)); err != nil {
				return err
			}

			chunks, err := buildSynthesisChunks(text, chunk, maxChunkChars)
			if err != nil {
				return err
			}

			samples, rate, err := synthesizeChunks(cmd.Context(), engine, req, chunks)
			if err != nil {
				return err
			}

			wavData, err := audio.EncodeWAV(samples, rate)
			if err != nil {
				return err
			}

			return writeSynthOutput(out, wavData, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&inputText, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice name from the voice catalog (overrides config)")
	cmd.Flags().StringVar(&language, "lang", "", "Language name from the model config (overrides config)")
	cmd.Flags().BoolVar(&chunk, "chunk", false, "Split text into sentence chunks and synthesize sequentially")
	cmd.Flags().IntVar(&maxChunkChars, "max-chunk-chars", 220, "Maximum characters per chunk when --chunk is enabled")

	return cmd
}

func newEngineFromConfig(cfg config.Config) *tts.Engine {
	return tts.NewEngine(tts.Options{
		ModelDir: cfg.Paths.ModelDir,
		Repo:     cfg.Model.Repo,
		HFToken:  cfg.Model.HFToken,
		Post: tts.PostOptions{
			PeakNormalize: cfg.Audio.Normalize,
			DCBlock:       cfg.Audio.DCBlock,
			FadeMs:        cfg.Audio.FadeMs,
		},
	})
}

// downloadProgress writes coarse download progress to w.
func downloadProgress(w io.Writer) func(fraction float64, message string) {
	last := -1

	return func(fraction float64, message string) {
		pct := int(fraction * 100)
		if pct == last {
			return
		}

		last = pct
		_, _ = fmt.Fprintf(w, "\r%3d%% %s", pct, message)

		if pct >= 100 {
			_, _ = fmt.Fprintln(w)
		}
	}
}

func buildSynthesisChunks(input string, chunk bool, maxChunkChars int) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty input text")
	}

	if !chunk {
		return []string{input}, nil
	}

	chunks := textpkg.ChunkBySentence(input, maxChunkChars)

	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no non-empty chunks produced from input")
	}

	return out, nil
}

func synthesizeChunks(ctx context.Context, engine *tts.Engine, req tts.Request, chunks []string) ([]float32, int, error) {
	var merged []float32

	rate := audio.DefaultSampleRate

	for i, chunkText := range chunks {
		chunkReq := req
		chunkReq.Text = chunkText

		out, err := engine.Generate(ctx, chunkReq)
		if err != nil {
			return nil, 0, fmt.Errorf("chunk %d synthesis failed: %w", i+1, err)
		}

		merged = append(merged, out.Samples...)
		rate = out.SampleRate
	}

	if len(merged) == 0 {
		return nil, 0, fmt.Errorf("synthesis produced no samples")
	}

	return merged, rate, nil
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}

		_, err := stdout.Write(wavData)

		return err
	}

	return os.WriteFile(outPath, wavData, 0o644)
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", fmt.Errorf("either provide --text or pipe text on stdin")
	}

	return input, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
