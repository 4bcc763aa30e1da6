package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	glog "github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"storysmith/pkg/config"
	"storysmith/pkg/diffusion"
	"storysmith/pkg/inference"
	"storysmith/pkg/jobs"
	"storysmith/pkg/pipeline"
	"storysmith/pkg/queue"
	"storysmith/pkg/queue/imagegen"
	"storysmith/pkg/story"
)

var rootCmd = &cobra.Command{
	Use:   "storysmith",
	Short: "Turn a short prompt into a story and an illustrated scene",
	Long: `StorySmith writes a short story from a prompt, describes its main character
and setting, renders both as images and merges them into one scene.

Without a subcommand it runs the web server.`,
	SilenceUsage: true,
	RunE:         serve,
}

func init() {
	rootCmd.AddCommand(serveCmd, generateCmd, checkCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies LOG_LEVEL.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log.SetLevel(config.LevelFromString(cfg.LogLevel))
	return cfg, nil
}

// buildChain wires the text and image backends into a pipeline. Image
// requests go through q, which the caller starts and stops.
func buildChain(cfg *config.Config) (*pipeline.Chain, *imagegen.Queue, error) {
	inf, err := inference.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("text backend: %w", err)
	}
	gen, err := diffusion.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("image backend: %w", err)
	}
	q := imagegen.New(gen, cfg.QueueSize)

	return &pipeline.Chain{
		Story:     story.NewGenerator(inf),
		Images:    queue.Generator{Queue: q},
		OutputDir: cfg.OutputDir,
		TempDir:   cfg.TempDir,
		Threshold: cfg.RemoveThreshold,
		Width:     cfg.ImageWidth,
		Height:    cfg.ImageHeight,
	}, q, nil
}

// openStore returns the job store named by JOB_STORE and a func that
// persists or releases it on shutdown.
func openStore(cfg *config.Config) (jobs.Store, func() error, error) {
	switch cfg.JobStore {
	case config.StoreRedis:
		rdb, err := jobs.ConnectRedis(cfg)
		if err != nil {
			return nil, nil, err
		}
		return jobs.NewRedisStore(rdb, cfg.RedisJobTTL), rdb.Close, nil
	case config.StoreSupabase:
		store, err := jobs.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseJobsTable)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	default:
		store, err := jobs.LoadMemoryStore(cfg.JobsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s: %w", cfg.JobsFile, err)
		}
		return store, func() error { return store.Save(cfg.JobsFile) }, nil
	}
}

// echoLevel maps LOG_LEVEL onto the echo logger.
func echoLevel(s string) glog.Lvl {
	switch strings.ToLower(s) {
	case "debug":
		return glog.DEBUG
	case "warn", "warning":
		return glog.WARN
	case "error", "fatal":
		return glog.ERROR
	default:
		return glog.INFO
	}
}
