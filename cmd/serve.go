package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"storysmith/pkg/jobs"
	"storysmith/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server and the job workers",
	RunE:  serve,
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, done := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer done()

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
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}

	q.Start()
	runner := jobs.NewRunner(store, chain, cfg.Workers, cfg.QueueSize)
	runner.MediaRoot = cfg.MediaRoot
	runner.Start(ctx)

	srv := server.NewServer(ctx, runner, cfg.MediaRoot)
	srv.Echo.Logger.SetLevel(echoLevel(cfg.LogLevel))
	srv.ImagesWaiting = q.Len

	finishedShutDown := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		runner.Stop()
		q.Stop()
		finishedShutDown <- errors.Join(err, closeStore())
	}()

	if err := srv.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", "error", err)
		done()
	}
	return <-finishedShutDown
}
