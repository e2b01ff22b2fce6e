package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/blackmichael/bluesky-timeline/internal/bluesky"
	"github.com/blackmichael/bluesky-timeline/internal/config"
	"github.com/blackmichael/bluesky-timeline/internal/domain"
	"github.com/blackmichael/bluesky-timeline/internal/logger"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "bluesky-timeline",
		Short: "Follow a BlueSky home timeline from the terminal",
		Long: `Logs in with an App Password, loads the home timeline and prints every
new post as plain text lines prefixed with the author's name.

  bluesky-timeline watch              # follow the timeline
  bluesky-timeline dump --limit 20    # print the 20 most recent posts`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newWatchCmd(opts), newDumpCmd(opts))
	return cmd
}

// setup loads the configuration and builds the logger. Logs go to w so the
// rendered timeline on stdout stays clean.
func (o *rootOptions) setup(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if o.verbose {
		level = "debug"
	}
	return cfg, logger.Setup(w, level), nil
}

// openSession logs in and performs the initial timeline load.
func openSession(ctx context.Context, cfg *config.Config, log *slog.Logger, metrics domain.Recorder) (*bluesky.Client, *domain.Session, error) {
	client := bluesky.NewClient(cfg.PDS,
		bluesky.WithRateLimit(cfg.RateLimit),
		bluesky.WithLogger(log),
	)

	session := domain.NewSession(client, domain.NewStore(), domain.SessionConfig{
		Credentials: domain.Credentials{Identifier: cfg.Handle, Password: cfg.AppPassword},
		CallTimeout: cfg.CallTimeout,
	}, log, metrics)

	if err := session.Initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialize session: %w", err)
	}
	return client, session, nil
}
