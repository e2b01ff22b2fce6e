package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/blackmichael/bluesky-timeline/internal/display"
	"github.com/blackmichael/bluesky-timeline/internal/domain"
	"github.com/blackmichael/bluesky-timeline/internal/firehose"
	"github.com/blackmichael/bluesky-timeline/internal/httpserver"
	"github.com/blackmichael/bluesky-timeline/internal/metrics"
	"github.com/blackmichael/bluesky-timeline/internal/sqlite"
)

const cleanupInterval = time.Hour

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var backlog int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the home timeline until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.setup(os.Stderr)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("backlog") {
				cfg.Backlog = backlog
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, err := sqlite.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer repo.Close()
			log.Info("opened archive", "path", cfg.DatabasePath)

			reg := prometheus.NewRegistry()
			collector := metrics.NewCollector(reg)

			client, session, err := openSession(ctx, cfg, log, collector)
			if err != nil {
				return err
			}
			log.Info("logged in", "did", client.DID(), "posts", session.Store().Len())

			resolver := domain.NewResolver(client, cfg.CallTimeout, log, collector)
			renderer := domain.NewRenderer(session.Store(), resolver, log)
			sink := display.MultiSink{display.NewTerminal(os.Stdout), repo}
			watcher := domain.NewWatcher(session, renderer, sink, repo, domain.WatcherConfig{
				PollInterval: cfg.PollInterval,
				Backlog:      cfg.Backlog,
			}, log, collector)

			var wg sync.WaitGroup
			trigger := make(chan struct{}, 1)

			if cfg.FirehoseEnabled {
				subscriber := firehose.NewSubscriber(cfg.FirehoseURL, session.Store(), repo, trigger, log)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
						log.Error("firehose subscriber exited with error", "error", err)
					}
				}()
			}

			var server *httpserver.Server
			if cfg.Port > 0 {
				server = httpserver.NewServer(cfg.Port, repo, metrics.Handler(reg), log)
				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("http server exited with error", "error", err)
					}
				}()
			}

			wg.Add(2)
			go func() {
				defer wg.Done()
				watcher.StartCleanupJob(ctx, cleanupInterval, cfg.Retention, cfg.MaxArchived)
			}()
			go func() {
				defer wg.Done()
				watcher.Run(ctx, trigger)
			}()

			<-ctx.Done()
			log.Info("shutting down")

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					log.Error("error shutting down http server", "error", err)
				}
			}
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().IntVar(&backlog, "backlog", 0, "Posts from the initial load to print at startup")
	return cmd
}
