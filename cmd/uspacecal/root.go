package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"uspacecal/internal/config"
	"uspacecal/internal/directory"
	"uspacecal/internal/ics"
	appLog "uspacecal/internal/log"
	"uspacecal/internal/session"
	"uspacecal/internal/store"
)

var (
	configPath string
	logLevel   string
	outputDir  string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:           "uspacecal",
	Short:         "Export u:space course calendars",
	Long:          `Collect the iCal feeds of every course registered in u:space and deliver them as one merged calendar, a zip of per-course files, or a webcal subscription.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output", "", "Directory for saved calendars (overrides config)")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "Hand-off server listen address (overrides config)")
}

// app holds the collaborators shared by all commands.
type app struct {
	cfg       *config.Config
	store     *store.FileStore
	directory *directory.Client
	sessions  *session.Provider
	fetcher   *ics.Fetcher
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	// CLI flags override config file values.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if listenAddr != "" {
		// A derived hand-off URL follows the new address.
		if cfg.HandoffURL == "http://"+cfg.Listen {
			cfg.HandoffURL = ""
		}
		cfg.Listen = listenAddr
	}
	cfg.Normalize()
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	appLog.Debug("effective config",
		"config_path", configPath,
		"state_file", cfg.StateFile,
		"output_dir", cfg.OutputDir,
		"cache_dir", cfg.CacheDir,
		"listen", cfg.Listen,
		"extractor", cfg.Extractor,
		"semester", cfg.Semester,
		"refresh", cfg.Refresh,
	)

	st, err := store.Open(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", cfg.StateFile, err)
	}
	if err := store.InitDefaults(st, os.Getenv("LANG")); err != nil {
		return nil, err
	}

	dir := directory.NewClient(cfg.APIURL, cfg.ProfileURL, cfg.HTTPTimeout)
	return &app{
		cfg:       cfg,
		store:     st,
		directory: dir,
		sessions:  session.NewProvider(st, session.ChromeBrowser{}, dir, cfg.PortalURL, cfg.LoginTimeout),
		fetcher:   ics.NewFetcher(cfg.FeedBaseURL, cfg.CacheDir, cfg.HTTPTimeout),
	}, nil
}

// semesterOrLatest picks the explicit semester, then the configured one,
// then the most recent one of the session.
func (a *app) semesterOrLatest(explicit string, sess *session.Session) (string, error) {
	switch {
	case explicit != "":
		return explicit, nil
	case a.cfg.Semester != "":
		return a.cfg.Semester, nil
	case sess != nil && len(sess.Semesters) > 0:
		return sess.Semesters[len(sess.Semesters)-1], nil
	default:
		return "", fmt.Errorf("no semester given and none available; use --semester")
	}
}
