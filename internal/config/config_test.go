package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Paths.ModelDir != "models/qwen3-tts" {
		t.Errorf("ModelDir = %q; want %q", cfg.Paths.ModelDir, "models/qwen3-tts")
	}

	if cfg.Model.Repo != "Qwen/Qwen3-TTS-12Hz-1.7B" {
		t.Errorf("Repo = %q; want %q", cfg.Model.Repo, "Qwen/Qwen3-TTS-12Hz-1.7B")
	}

	if cfg.TTS.Temperature != 0 {
		t.Errorf("Temperature = %v; want 0", cfg.TTS.Temperature)
	}
}

func TestRegisterFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	checks := []struct {
		flag string
		want string
	}{
		{"paths-model-dir", "models/qwen3-tts"},
		{"model-repo", "Qwen/Qwen3-TTS-12Hz-1.7B"},
		{"tts-temperature", "0"},
		{"audio-normalize", "false"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{Cmd: newFlagBinder(defaults), Defaults: defaults})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Paths.ModelDir != defaults.Paths.ModelDir {
		t.Errorf("ModelDir = %q; want %q", cfg.Paths.ModelDir, defaults.Paths.ModelDir)
	}

	if cfg.Model.Repo != defaults.Model.Repo {
		t.Errorf("Repo = %q; want %q", cfg.Model.Repo, defaults.Model.Repo)
	}
}

func TestLoadFlagOverride(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	err := fs.Parse([]string{
		"--paths-model-dir=/opt/models",
		"--tts-voice=alto",
		"--tts-temperature=0.8",
		"--audio-normalize=true",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: &fakeBinder{fs: fs}, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Paths.ModelDir != "/opt/models" {
		t.Errorf("ModelDir = %q; want /opt/models", cfg.Paths.ModelDir)
	}

	if cfg.TTS.Voice != "alto" {
		t.Errorf("Voice = %q; want alto", cfg.TTS.Voice)
	}

	if cfg.TTS.Temperature != 0.8 {
		t.Errorf("Temperature = %v; want 0.8", cfg.TTS.Temperature)
	}

	if !cfg.Audio.Normalize {
		t.Error("Audio.Normalize = false; want true")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("QWENTTS_TTS_LANGUAGE", "de")
	t.Setenv("QWENTTS_PATHS_MODEL_DIR", "/env/models")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TTS.Language != "de" {
		t.Errorf("Language = %q; want de", cfg.TTS.Language)
	}

	if cfg.Paths.ModelDir != "/env/models" {
		t.Errorf("ModelDir = %q; want /env/models", cfg.Paths.ModelDir)
	}
}

func TestLoadTokenEnvAliases(t *testing.T) {
	t.Setenv("HF_TOKEN", "secret")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Model.HFToken != "secret" {
		t.Errorf("HFToken = %q; want secret", cfg.Model.HFToken)
	}
}

func TestLoadInvalidConfigFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "bad.yaml")

	if err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(LoadOptions{ConfigFile: cfgFile, Defaults: DefaultConfig()}); err == nil {
		t.Error("expected error for invalid config file")
	}
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/qwentts.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadNilCmd(t *testing.T) {
	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	_ = cfg.Paths.ModelDir
}
