package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"storysmith/pkg/pipeline"
	"storysmith/pkg/utils"
)

var (
	flagStoryOnly bool
	flagJSON      bool
)

var generateCmd = &cobra.Command{
	Use:   "generate {topic}",
	Short: "Generate one story and scene from the command line",
	Long: `Runs the full pipeline once for the given topic and prints the story,
the descriptions and the generated file paths.

With --story-only the image stages are skipped. With --json the result is
printed as JSON instead of the text summary.`,
	Args: cobra.MinimumNArgs(1),
	RunE: generate,
}

func init() {
	generateCmd.Flags().BoolVar(&flagStoryOnly, "story-only", false, "Only generate the story and descriptions")
	generateCmd.Flags().BoolVar(&flagJSON, "json", false, "Print the result as JSON")
}

func generate(cmd *cobra.Command, args []string) error {
	ctx, done := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer done()

	topic := strings.TrimSpace(strings.Join(args, " "))
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	chain, q, err := buildChain(cfg)
	if err != nil {
		return err
	}
	q.Start()
	defer q.Stop()

	out := cmd.OutOrStdout()
	opts := pipeline.Options{GenerateImages: !flagStoryOnly}
	res, err := chain.Run(ctx, topic, opts, func(e pipeline.Event) {
		switch e.Status {
		case pipeline.StatusStarting:
			fmt.Fprintf(out, "... %s\n", e.Step)
		case pipeline.StatusCompleted:
			fmt.Fprintf(out, "ok  %s\n", e.Step)
		case pipeline.StatusFailed:
			fmt.Fprintf(out, "!!  %s\n", e.Error)
		}
	})
	if err != nil {
		return err
	}

	if flagJSON {
		fmt.Fprintln(out, utils.PrettyJSON(res))
		return nil
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, pipeline.Summary(res))
	if res.SummaryPath != "" {
		fmt.Fprintf(out, "\nSummary saved to %s\n", res.SummaryPath)
	}
	return nil
}
