package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-qwen-tts/internal/model"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage local model files",
	}

	cmd.AddCommand(newModelDownloadCmd())
	cmd.AddCommand(newModelVerifyCmd())

	return cmd
}

func newModelDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download model files from Hugging Face",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			err = model.Download(cmd.Context(), model.DownloadOptions{
				Repo:     cfg.Model.Repo,
				OutDir:   cfg.Paths.ModelDir,
				HFToken:  cfg.Model.HFToken,
				Progress: downloadProgress(os.Stderr),
			})
			if err != nil {
				return fmt.Errorf("model download failed: %w", err)
			}

			_, _ = fmt.Fprintf(os.Stdout, "model ready in %s\n", cfg.Paths.ModelDir)

			return nil
		},
	}

	return cmd
}

func newModelVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify model files against the lock manifest",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			results, err := model.VerifyDir(cfg.Paths.ModelDir)
			if err != nil {
				return err
			}

			failed := 0

			for _, r := range results {
				status := "ok"
				if !r.OK {
					status = "FAIL"
					failed++
				}

				_, _ = fmt.Fprintf(os.Stdout, "%-6s %s (%s)\n", status, r.Filename, r.Detail)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files failed verification", failed, len(results))
			}

			return nil
		},
	}

	return cmd
}
