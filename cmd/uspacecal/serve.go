package main

import (
	"github.com/spf13/cobra"

	"uspacecal/internal/deliver"
	appLog "uspacecal/internal/log"
	"uspacecal/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hand-off server and publish calendars over HTTP",
	Long: `Serve the hand-off pages, POST /api/export, the published calendars under
/calendar/ and export progress on /ws/progress. With "refresh" and
"semester" set in the config, the merged calendar is re-exported on that
cron schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp()
		if err != nil {
			return err
		}

		publisher := web.NewFeedPublisher()
		progress := web.NewBroadcaster()
		dispatcher := deliver.NewDispatcher(
			publisher,
			deliver.ZipArchiver{},
			deliver.ExecOpener{},
			a.store,
			a.cfg.HandoffURL,
			a.cfg.FallbackPause,
		)
		orch := a.orchestrator(dispatcher)

		if a.cfg.Refresh != "" {
			refresher, err := web.NewRefresher(a.cfg.Refresh, a.cfg.Semester, orch, a.sessions, progress.Progress)
			if err != nil {
				return err
			}
			refresher.Start(ctx)
			// Publish once right away so the feed URL works before the first tick.
			go refresher.RunOnce(ctx)
		} else {
			appLog.Info("scheduled refresh disabled")
		}

		srv := web.NewServer(a.cfg, a.store, orch, a.sessions, publisher, progress)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
