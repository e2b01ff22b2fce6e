package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackmichael/bluesky-timeline/internal/display"
	"github.com/blackmichael/bluesky-timeline/internal/domain"
)

func newDumpCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the most recent posts of the home timeline and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative, got %d", limit)
			}

			cfg, log, err := opts.setup(os.Stderr)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client, session, err := openSession(ctx, cfg, log, nil)
			if err != nil {
				return err
			}

			resolver := domain.NewResolver(client, cfg.CallTimeout, log, nil)
			renderer := domain.NewRenderer(session.Store(), resolver, log)
			watcher := domain.NewWatcher(session, renderer, display.NewTerminal(os.Stdout), nil, domain.WatcherConfig{}, log, nil)

			n := watcher.PublishRecent(ctx, limit)
			log.Debug("dumped timeline", "posts", n)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of posts to print, 0 for the whole initial load")
	return cmd
}
