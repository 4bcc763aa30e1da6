package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storysmith/pkg/config"
	"storysmith/pkg/diffusion"
	"storysmith/pkg/inference"
	"storysmith/pkg/jobs"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the configuration and reachability of the backends",
	RunE:  check,
}

func check(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "configuration: %v\n", err)
		return err
	}
	fmt.Fprintln(out, "configuration: ok")

	if _, err := inference.New(cfg); err != nil {
		return fmt.Errorf("text backend: %w", err)
	}
	switch cfg.TextProvider {
	case config.ProviderOpenAI:
		fmt.Fprintf(out, "text: %s (%s)\n", cfg.TextProvider, cfg.OpenAIModel)
	case config.ProviderGemini:
		fmt.Fprintf(out, "text: %s (%s)\n", cfg.TextProvider, cfg.GeminiModel)
	default:
		fmt.Fprintf(out, "text: %s (%s)\n", cfg.TextProvider, cfg.TextModel)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	switch cfg.ImageProvider {
	case config.ProviderWebUI:
		if err := diffusion.NewWebUI(cfg.WebUIURL).CheckHealth(ctx); err != nil {
			fmt.Fprintf(out, "image: webui at %s is not reachable: %v\n", cfg.WebUIURL, err)
			return err
		}
		fmt.Fprintf(out, "image: webui at %s is reachable\n", cfg.WebUIURL)
	case config.ProviderGemini:
		fmt.Fprintf(out, "image: %s (%s)\n", cfg.ImageProvider, cfg.GeminiImageModel)
	default:
		fmt.Fprintf(out, "image: %s (%s)\n", cfg.ImageProvider, cfg.ImageModel)
	}

	if cfg.JobStore == config.StoreRedis {
		rdb, err := jobs.ConnectRedis(cfg)
		if err != nil {
			fmt.Fprintf(out, "jobs: redis at %s is not reachable: %v\n", cfg.RedisAddr(), err)
			return err
		}
		_ = rdb.Close()
	}
	fmt.Fprintf(out, "jobs: %s store, %d workers, queue of %d\n", cfg.JobStore, cfg.Workers, cfg.QueueSize)
	return nil
}
