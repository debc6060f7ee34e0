package native

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/example/go-qwen-tts/internal/runtime/tensor"
	"github.com/example/go-qwen-tts/internal/safetensors"
)

// scriptedPredictor replays a fixed list of frames, then emits the stop code.
type scriptedPredictor struct {
	frames [][]int64
	stop   []int64
	step   int
}

func (p *scriptedPredictor) predict(_ *tensor.Tensor, _ sampleFunc) ([]int64, error) {
	if p.step < len(p.frames) {
		frame := p.frames[p.step]
		p.step++

		return append([]int64(nil), frame...), nil
	}

	return append([]int64(nil), p.stop...), nil
}

func TestLoadTalkerRejectsBadCodeTable(t *testing.T) {
	cfg := talkerFixtureConfig()
	tensors := talkerFixtureTensors(cfg)

	for i := range tensors {
		if tensors[i].Name == "code_embed.weight" {
			tensors[i].Shape = []int64{cfg.CodebookSize, cfg.HiddenSize}
			tensors[i].Data = tensors[i].Data[:cfg.CodebookSize*cfg.HiddenSize]
		}
	}

	data, err := safetensors.EncodeTensors(tensors)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	store, err := safetensors.OpenStoreFromBytes(data, safetensors.StoreOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := LoadTalker(NewVarBuilder(store), cfg); err == nil {
		t.Fatal("expected error for truncated code table")
	}
}

// Checkpoints name the output heads code_heads.<group>.weight; loading must
// resolve exactly those keys.
func TestLoadTalkerCodeHeads(t *testing.T) {
	talker := loadTalkerFixture(t)

	joint, ok := talker.predictor.(*jointHeadPredictor)
	if !ok {
		t.Fatalf("predictor type %T, want *jointHeadPredictor", talker.predictor)
	}

	if len(joint.heads) != int(talker.cfg.NumCodebooks) {
		t.Fatalf("got %d heads, want %d", len(joint.heads), talker.cfg.NumCodebooks)
	}

	for g, head := range joint.heads {
		shape := head.Weight.Shape()
		if shape[0] != talker.cfg.CodebookSize || shape[1] != talker.cfg.HiddenSize {
			t.Fatalf("head %d weight shape %v, want [%d %d]", g, shape, talker.cfg.CodebookSize, talker.cfg.HiddenSize)
		}
	}
}

func TestGenerateGreedyIsDeterministic(t *testing.T) {
	talker := loadTalkerFixture(t)
	opts := GenerateOptions{MaxFrames: 4, Language: -1}

	first, err := talker.Generate(context.Background(), []int64{1, 2, 3}, opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	second, err := talker.Generate(context.Background(), []int64{1, 2, 3}, opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("frame counts differ: %d vs %d", len(first), len(second))
	}

	for i := range first {
		for g := range first[i] {
			if first[i][g] != second[i][g] {
				t.Fatalf("frame %d group %d differs: %d vs %d", i, g, first[i][g], second[i][g])
			}
		}
	}
}

func TestGenerateStopBeforeFirstFrame(t *testing.T) {
	talker := loadTalkerFixture(t)
	talker.predictor = &scriptedPredictor{stop: []int64{talker.cfg.StopCode, 0, 0}}

	_, err := talker.Generate(context.Background(), []int64{1}, GenerateOptions{Language: -1})
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("got %v, want ErrNoFrames", err)
	}
}

func TestGenerateStopsAfterScriptedFrames(t *testing.T) {
	talker := loadTalkerFixture(t)
	talker.predictor = &scriptedPredictor{
		frames: [][]int64{{1, 2, 3}, {4, 5, 6}, {0, 1, 2}},
		stop:   []int64{talker.cfg.StopCode, 0, 0},
	}

	frames, err := talker.Generate(context.Background(), []int64{1, 2}, GenerateOptions{Language: -1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}

	if frames[1][2] != 6 {
		t.Fatalf("frame 1 group 2 = %d, want 6", frames[1][2])
	}
}

func TestGenerateHonorsMaxFrames(t *testing.T) {
	talker := loadTalkerFixture(t)
	talker.predictor = &scriptedPredictor{
		frames: [][]int64{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}, {0, 0, 0}, {0, 0, 0}},
		stop:   []int64{talker.cfg.StopCode, 0, 0},
	}

	frames, err := talker.Generate(context.Background(), []int64{1}, GenerateOptions{MaxFrames: 2, Language: -1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
}

func TestGenerateCanceled(t *testing.T) {
	talker := loadTalkerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := talker.Generate(ctx, []int64{1, 2}, GenerateOptions{Language: -1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestGeneratePromptValidation(t *testing.T) {
	talker := loadTalkerFixture(t)

	if _, err := talker.Generate(context.Background(), nil, GenerateOptions{Language: -1}); err == nil {
		t.Fatal("expected error for empty prompt")
	}

	if _, err := talker.Generate(context.Background(), []int64{999}, GenerateOptions{Language: -1}); err == nil {
		t.Fatal("expected error for out-of-vocabulary token")
	}

	if _, err := talker.Generate(context.Background(), []int64{1}, GenerateOptions{Language: 99}); err == nil {
		t.Fatal("expected error for out-of-range language")
	}
}

func TestGenerateSpeakerConditioning(t *testing.T) {
	talker := loadTalkerFixture(t)
	talker.predictor = &scriptedPredictor{
		frames: [][]int64{{1, 1, 1}},
		stop:   []int64{talker.cfg.StopCode, 0, 0},
	}

	spk, err := tensor.New(make([]float32, talker.cfg.SpeakerEmbedDim), []int64{talker.cfg.SpeakerEmbedDim})
	if err != nil {
		t.Fatalf("speaker tensor: %v", err)
	}

	frames, err := talker.Generate(context.Background(), []int64{1, 2}, GenerateOptions{
		Language: 1,
		Speaker:  spk,
	})
	if err != nil {
		t.Fatalf("generate with conditioning: %v", err)
	}

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
}

func TestGenerateSampledStaysInRange(t *testing.T) {
	talker := loadTalkerFixture(t)

	frames, err := talker.Generate(context.Background(), []int64{3, 4, 5}, GenerateOptions{
		MaxFrames:   3,
		Temperature: 0.8,
		Rand:        rand.New(rand.NewSource(1)),
		Language:    -1,
	})
	if err != nil && !errors.Is(err, ErrNoFrames) {
		t.Fatalf("generate: %v", err)
	}

	for i, frame := range frames {
		if len(frame) != int(talker.cfg.NumCodebooks) {
			t.Fatalf("frame %d has %d groups, want %d", i, len(frame), talker.cfg.NumCodebooks)
		}

		for g, code := range frame {
			if code < 0 || code >= talker.cfg.CodebookSize {
				t.Fatalf("frame %d group %d code %d out of range", i, g, code)
			}
		}
	}
}

func TestGenerateSamplingRequiresRand(t *testing.T) {
	talker := loadTalkerFixture(t)

	_, err := talker.Generate(context.Background(), []int64{1}, GenerateOptions{
		Temperature: 0.5,
		Language:    -1,
	})
	if err == nil {
		t.Fatal("expected error when temperature > 0 without a random source")
	}
}

// Incremental decoding with the KV cache must match a single full-sequence
// forward pass over the same token stream.
func TestIncrementalMatchesFullForward(t *testing.T) {
	talker := loadTalkerFixture(t)

	prompt, err := talker.buildPrompt([]int64{1, 2, 3}, GenerateOptions{Language: -1})
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}

	frameCodes := [][]int64{{1, 2, 3}, {4, 0, 7}}

	steps := []*tensor.Tensor{prompt}
	for _, codes := range frameCodes {
		step, err := talker.embedFrame(codes)
		if err != nil {
			t.Fatalf("embed frame: %v", err)
		}

		steps = append(steps, step)
	}

	// Incremental: prefill the prompt, then feed one frame at a time.
	incStates := make([]*BlockState, len(talker.layers))
	for i := range incStates {
		incStates[i] = &BlockState{}
	}

	var incremental *tensor.Tensor

	pos := int64(0)
	for _, step := range steps {
		incremental, err = talker.forward(step, incStates, pos)
		if err != nil {
			t.Fatalf("incremental forward at %d: %v", pos, err)
		}

		pos += step.Shape()[1]
	}

	// Full pass: the whole sequence at once.
	full, err := tensor.Concat(steps, 1)
	if err != nil {
		t.Fatalf("concat: %v", err)
	}

	fullStates := make([]*BlockState, len(talker.layers))
	for i := range fullStates {
		fullStates[i] = &BlockState{}
	}

	fullOut, err := talker.forward(full, fullStates, 0)
	if err != nil {
		t.Fatalf("full forward: %v", err)
	}

	approxEqual(t, incremental.RawData(), fullOut.RawData(), 1e-4)
}
