package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"uspacecal/internal/deliver"
	"uspacecal/internal/ics"
	appLog "uspacecal/internal/log"
	"uspacecal/internal/model"
	"uspacecal/internal/pipeline"
	"uspacecal/internal/web"
)

var (
	exportSemester  string
	exportMode      string
	exportTransport string
	exportSelect    bool
	exportYes       bool
	exportCourses   []string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the calendars of a semester",
	Long: `Fetch the calendar feed of every registered course and deliver it.

  --mode merged      one calendar with every event, titles prefixed by course
  --mode batch       a zip archive with one calendar per course
  --transport webcal subscribe instead of saving a file (always merged)
  --select           with webcal: pick single courses on a local page`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mode, err := model.ParseMode(exportMode)
	if err != nil {
		return err
	}
	transport, err := model.ParseTransport(exportTransport)
	if err != nil {
		return err
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	sess, err := a.sessions.Validate(ctx)
	if err != nil {
		return err
	}
	semester, err := a.semesterOrLatest(exportSemester, sess)
	if err != nil {
		return err
	}

	var courses []model.Course
	if len(exportCourses) > 0 {
		listed, err := a.directory.Courses(ctx, sess, semester)
		if err != nil {
			return err
		}
		courses = lo.Filter(listed, func(c model.Course, _ int) bool { return lo.Contains(exportCourses, c.ID) })
		if len(courses) == 0 {
			return fmt.Errorf("none of %v is registered in %s", exportCourses, semester)
		}
	}

	var prompter deliver.Prompter
	if !exportYes {
		prompter = deliver.NewStdPrompter()
	}
	dispatcher := deliver.NewDispatcher(
		&deliver.FileDownloader{Dir: a.cfg.OutputDir, Prompter: prompter},
		deliver.ZipArchiver{},
		deliver.ExecOpener{},
		a.store,
		a.cfg.HandoffURL,
		a.cfg.FallbackPause,
	)

	// webcal hand-offs may end on a local page that must stay reachable.
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	var serverErr <-chan error
	if transport == model.TransportWebcal {
		serverErr = startHandoffServer(serverCtx, a)
	}

	orch := a.orchestrator(dispatcher)
	out := cmd.OutOrStdout()
	res := orch.Run(ctx, sess, model.DeliveryRequest{
		Mode:          mode,
		Transport:     transport,
		Semester:      semester,
		Courses:       courses,
		SelectCourses: exportSelect,
	}, progressPrinter(cmd.ErrOrStderr()))
	fmt.Fprintln(cmd.ErrOrStderr())

	if !res.Success {
		if res.Err != nil {
			return res.Err
		}
		return errors.New(res.Message)
	}

	switch {
	case res.HandedOff:
		fmt.Fprintf(out, "Listed %d courses for %s. Pick courses at %s/course-webcal\n", res.CourseCount, semester, a.cfg.HandoffURL)
	case res.Subscription != nil && res.Subscription.Outcome == deliver.OutcomeFallback:
		fmt.Fprintf(out, "Merged %d courses. Your system did not accept the webcal link; see %s\n", res.CourseCount, res.Subscription.HelpURL)
	case res.Subscription != nil:
		fmt.Fprintf(out, "Merged %d courses and handed the subscription to your calendar app.\n", res.CourseCount)
	case res.EffectiveMode == model.ModeBatch:
		fmt.Fprintf(out, "Exported %d course calendars for %s.\n", res.CourseCount, semester)
	default:
		fmt.Fprintf(out, "Merged %d courses into one calendar for %s.\n", res.CourseCount, semester)
	}

	if serverErr == nil || !needsHandoffPage(res) {
		return nil
	}
	fmt.Fprintln(out, "Serving the hand-off page; press Ctrl-C when you are done.")
	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErr:
		return err
	}
}

// needsHandoffPage reports whether the run left the user on a page of the
// hand-off server.
func needsHandoffPage(res pipeline.Result) bool {
	if res.HandedOff {
		return true
	}
	return res.Subscription != nil && res.Subscription.Outcome == deliver.OutcomeFallback
}

func (a *app) orchestrator(dispatcher pipeline.Dispatcher) *pipeline.Orchestrator {
	return pipeline.New(
		a.directory,
		a.fetcher,
		ics.NewExtractor(a.cfg.Extractor),
		dispatcher,
		a.store,
		deliver.ExecOpener{},
		a.cfg.HandoffURL,
	)
}

func startHandoffServer(ctx context.Context, a *app) <-chan error {
	srv := web.NewServer(a.cfg, a.store, nil, nil, nil, nil)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			appLog.Error("hand-off server failed", err, "listen", a.cfg.Listen)
			errCh <- err
		}
	}()
	return errCh
}

func progressPrinter(w io.Writer) pipeline.ProgressFunc {
	return func(fraction float64) {
		fmt.Fprintf(w, "\rFetching course feeds... %3.0f%%", fraction*100)
	}
}

func init() {
	exportCmd.Flags().StringVar(&exportSemester, "semester", "", "Semester token, e.g. 2024W (default: config or latest)")
	exportCmd.Flags().StringVar(&exportMode, "mode", string(model.ModeMerged), "merged or batch")
	exportCmd.Flags().StringVar(&exportTransport, "transport", string(model.TransportDownload), "download or webcal")
	exportCmd.Flags().BoolVar(&exportSelect, "select", false, "With webcal, choose single courses on the hand-off page")
	exportCmd.Flags().StringSliceVar(&exportCourses, "course", nil, "Only export these course IDs (repeatable)")
	exportCmd.Flags().BoolVarP(&exportYes, "yes", "y", false, "Save without asking for a location")

	rootCmd.AddCommand(exportCmd)
}
