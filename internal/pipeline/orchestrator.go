// Package pipeline drives one calendar export: list the semester's
// courses, fetch every course feed in order, then merge or bundle the feeds
// and hand the result to the dispatcher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"uspacecal/internal/deliver"
	"uspacecal/internal/directory"
	"uspacecal/internal/ics"
	appLog "uspacecal/internal/log"
	"uspacecal/internal/model"
	"uspacecal/internal/store"
)

// ErrRunInProgress rejects a second run while one is still in flight.
var ErrRunInProgress = errors.New("an export is already running")

// Lister lists the registrations of a semester.
type Lister interface {
	Courses(ctx context.Context, cookies directory.CookieSource, semester string) ([]model.Course, error)
}

// FeedFetcher retrieves one course feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, courseID, semester string) ([]byte, error)
}

// Dispatcher delivers the finished artifacts.
type Dispatcher interface {
	Direct(ctx context.Context, content []byte, filename string) error
	Batch(ctx context.Context, entries []model.NamedContent, archiveName string) error
	Subscribe(ctx context.Context, content []byte, filename string) (deliver.SubscribeResult, error)
}

// Opener opens the course-selection hand-off page.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// ProgressFunc receives the fraction of processed courses in (0, 1].
// It must not block.
type ProgressFunc func(fraction float64)

// Result is the outcome of one run. Failures are reported here rather
// than as an error return; Err keeps the cause for errors.Is checks.
type Result struct {
	Success       bool
	CourseCount   int
	Message       string
	EffectiveMode model.Mode
	// Subscription is set when the run ended in a webcal hand-off.
	Subscription *deliver.SubscribeResult
	// HandedOff is true when the listing went to the course-selection page.
	HandedOff bool
	Err       error
}

// Orchestrator runs exports. At most one run is in flight at a time.
type Orchestrator struct {
	lister     Lister
	fetcher    FeedFetcher
	extractor  ics.Extractor
	dispatcher Dispatcher
	store      store.Store
	opener     Opener
	handoffURL string

	running atomic.Bool
}

// New wires an Orchestrator. store, opener and handoffURL serve the
// course-selection hand-off only.
func New(lister Lister, fetcher FeedFetcher, extractor ics.Extractor, dispatcher Dispatcher, st store.Store, opener Opener, handoffURL string) *Orchestrator {
	if extractor == nil {
		extractor = ics.RegexExtractor{}
	}
	return &Orchestrator{
		lister:     lister,
		fetcher:    fetcher,
		extractor:  extractor,
		dispatcher: dispatcher,
		store:      st,
		opener:     opener,
		handoffURL: strings.TrimRight(handoffURL, "/"),
	}
}

// Running reports whether a run is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run executes one export for the session. Every failure, including a
// panic in a collaborator, comes back as a Result with Success=false.
func (o *Orchestrator) Run(ctx context.Context, cookies directory.CookieSource, req model.DeliveryRequest, progress ProgressFunc) (res Result) {
	if !o.running.CompareAndSwap(false, true) {
		return failed(ErrRunInProgress)
	}
	defer o.running.Store(false)

	runID := uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("unexpected failure: %v", r)
			appLog.Error("export panicked", err, "run_id", runID)
			res = failed(err)
		}
	}()

	if progress == nil {
		progress = func(float64) {}
	}

	res = o.run(ctx, runID, cookies, req, progress)
	switch {
	case res.Success:
	case res.Err != nil:
		appLog.Error("export failed", res.Err, "run_id", runID, "semester", req.Semester)
	default:
		appLog.Warn("export produced nothing", "run_id", runID, "message", res.Message)
	}
	return res
}

func (o *Orchestrator) run(ctx context.Context, runID string, cookies directory.CookieSource, req model.DeliveryRequest, progress ProgressFunc) Result {
	mode := req.EffectiveMode()
	appLog.Info("export started",
		"run_id", runID,
		"semester", req.Semester,
		"requested_mode", req.Mode,
		"mode", mode,
		"transport", req.Transport,
	)

	// listing-courses
	courses := req.Courses
	if len(courses) == 0 {
		listed, err := o.lister.Courses(ctx, cookies, req.Semester)
		if err != nil {
			return failed(err)
		}
		courses = listed
	}
	if len(courses) == 0 {
		return Result{
			Success:       false,
			Message:       fmt.Sprintf("No courses found for %s", req.Semester),
			EffectiveMode: mode,
		}
	}
	appLog.Info("courses listed", "run_id", runID, "count", len(courses))

	if req.Transport == model.TransportWebcal && req.SelectCourses {
		return o.handOffSelection(ctx, courses, req.Semester)
	}

	// per-course-fetch loop
	withID := lo.Filter(courses, func(c model.Course, _ int) bool { return c.ID != "" })
	var (
		blocks      []string
		perCourse   []model.NamedContent
		courseCount int
	)
	for i, course := range withID {
		body, err := o.fetcher.Fetch(ctx, course.ID, req.Semester)
		progress(float64(i+1) / float64(len(withID)))
		if err != nil {
			if ctx.Err() != nil {
				return failed(ctx.Err())
			}
			appLog.Warn("skipping course without feed", "run_id", runID, "course", course.Title, "course_id", course.ID, "err", err)
			continue
		}
		courseCount++

		// bucketing
		if mode == model.ModeMerged {
			events := o.extractor.Extract(body, course.Title)
			appLog.Debug("events extracted", "run_id", runID, "course", course.Title, "events", len(events))
			blocks = append(blocks, events...)
		} else {
			perCourse = append(perCourse, model.NamedContent{
				Name:    model.SafeFilename(course.Title),
				Content: body,
			})
		}
	}

	res := Result{Success: true, CourseCount: courseCount, EffectiveMode: mode}

	// composing + dispatching
	switch {
	case mode == model.ModeBatch:
		if err := o.dispatcher.Batch(ctx, perCourse, model.ArchiveFilename(req.Semester)); err != nil {
			return failed(err)
		}
	case req.Transport == model.TransportWebcal:
		artifact := ics.Compose(blocks, req.Semester)
		sub, err := o.dispatcher.Subscribe(ctx, artifact, model.MergedFilename(req.Semester))
		if err != nil {
			return failed(err)
		}
		res.Subscription = &sub
	default:
		artifact := ics.Compose(blocks, req.Semester)
		if err := o.dispatcher.Direct(ctx, artifact, model.MergedFilename(req.Semester)); err != nil {
			return failed(err)
		}
	}

	appLog.Info("export finished", "run_id", runID, "courses", courseCount, "events", len(blocks), "mode", mode)
	return res
}

// handOffSelection stores the listing for the course-selection page and
// opens it; the user subscribes to single courses from there.
func (o *Orchestrator) handOffSelection(ctx context.Context, courses []model.Course, semester string) Result {
	if o.store == nil || o.opener == nil {
		return failed(errors.New("course selection hand-off is not configured"))
	}
	if err := o.store.SetMany(map[string]any{
		store.KeyWebcalCourses:  courses,
		store.KeyWebcalSemester: semester,
	}); err != nil {
		return failed(err)
	}
	if err := o.opener.Open(ctx, o.handoffURL+"/course-webcal"); err != nil {
		return failed(err)
	}
	return Result{
		Success:       true,
		CourseCount:   len(courses),
		EffectiveMode: model.ModeMerged,
		HandedOff:     true,
	}
}

func failed(err error) Result {
	return Result{Success: false, Message: err.Error(), Err: err}
}
