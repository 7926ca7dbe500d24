package main

import (
	"context"

	"github.com/spf13/cobra"

	appLog "scancal/internal/log"
	"scancal/internal/scan"
	"scancal/internal/web"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API",
		Long: "serve exposes the scan session, mention suggestions, calendar links, the iCalendar " +
			"export and Prometheus metrics over HTTP. With a watch schedule the configured page is " +
			"rescanned in the background.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.wire()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			srv := web.NewServer(ctx, web.Deps{
				Config:         a.cfg,
				Scanner:        a.scanner,
				Directory:      a.directory,
				Metrics:        a.metrics,
				NewPageScraper: newPageScraper(a.cfg),
				Location:       a.loc,
				Now:            a.now,
			})

			if a.cfg.Watch != "" && a.cfg.Scrape.URL != "" {
				w, err := scan.NewWatcher(a.scanner, a.cfg.Watch, a.loc)
				if err != nil {
					return err
				}
				go func() {
					_ = w.Run(ctx)
				}()
			} else if a.cfg.Watch != "" {
				appLog.Info("serve: watch ignored, scrape.url is not set", "watch", a.cfg.Watch)
			}

			return srv.Run(ctx)
		},
	}

	cmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().String("watch", "", "rescan scrape.url on this cron schedule")
	bindFlag(opts.v, cmd, "listen", "listen")
	bindFlag(opts.v, cmd, "watch", "watch")
	return cmd
}
