package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/go-qwen-tts/internal/model"
	"github.com/example/go-qwen-tts/internal/tts"
)

func newVoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List voices and languages of the local model",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			dir := model.Dir{Root: cfg.Paths.ModelDir}
			if !dir.IsComplete() {
				return fmt.Errorf("model directory %s is incomplete; run 'qwentts model download' first", cfg.Paths.ModelDir)
			}

			catalog, err := tts.LoadVoiceCatalog(dir.VoicesPath())
			if err != nil {
				return err
			}

			modelCfg, err := model.LoadConfig(dir.ConfigPath())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

			_, _ = fmt.Fprintln(w, "VOICE\tEMBEDDING\tTRANSCRIPT")
			for _, v := range catalog.List() {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", v.Name, v.Embedding, v.Transcript)
			}

			if err := w.Flush(); err != nil {
				return err
			}

			if len(modelCfg.Languages) > 0 {
				_, _ = fmt.Fprintln(os.Stdout)
				_, _ = fmt.Fprintln(os.Stdout, "Languages:")

				for _, lang := range modelCfg.Languages {
					_, _ = fmt.Fprintf(os.Stdout, "  %s\n", lang)
				}
			}

			return nil
		},
	}

	return cmd
}
