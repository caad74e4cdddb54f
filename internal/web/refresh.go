package web

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "uspacecal/internal/log"
	"uspacecal/internal/model"
	"uspacecal/internal/pipeline"
)

// Refresher re-runs the merged export of one semester on a cron schedule
// so the published calendar stays current.
type Refresher struct {
	runner   Runner
	sessions Sessions
	progress pipeline.ProgressFunc
	semester string
	cron     *cron.Cron
}

// NewRefresher schedules the export. spec is a standard five-field cron
// expression or a descriptor such as "@every 6h".
func NewRefresher(spec, semester string, runner Runner, sessions Sessions, progress pipeline.ProgressFunc) (*Refresher, error) {
	if semester == "" {
		return nil, errors.New("scheduled refresh needs a semester")
	}
	r := &Refresher{
		runner:   runner,
		sessions: sessions,
		progress: progress,
		semester: semester,
		cron:     cron.New(),
	}
	if _, err := r.cron.AddFunc(spec, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return r, nil
}

// Start runs the scheduler in the background until ctx is canceled.
func (r *Refresher) Start(ctx context.Context) {
	r.cron.Start()
	appLog.Info("scheduled refresh enabled", "semester", r.semester, "entries", len(r.cron.Entries()))
	go func() {
		<-ctx.Done()
		<-r.cron.Stop().Done()
	}()
}

// RunOnce performs one refresh. A run already in flight is not an error;
// the tick is skipped.
func (r *Refresher) RunOnce(ctx context.Context) pipeline.Result {
	sess, err := r.sessions.Current()
	if err != nil {
		appLog.Warn("scheduled refresh skipped", "err", err)
		return pipeline.Result{Message: err.Error(), Err: err}
	}
	res := r.runner.Run(ctx, sess, model.DeliveryRequest{
		Mode:      model.ModeMerged,
		Transport: model.TransportDownload,
		Semester:  r.semester,
	}, r.progress)
	if errors.Is(res.Err, pipeline.ErrRunInProgress) {
		appLog.Info("scheduled refresh skipped; export in progress", "semester", r.semester)
	}
	return res
}
