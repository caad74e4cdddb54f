// Package deliver hands finished calendars to the outside world: a saved
// file, a zip archive of per-course files, or a webcal subscription link
// opened in the desktop's handler.
package deliver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "uspacecal/internal/log"
	"uspacecal/internal/model"
	"uspacecal/internal/store"
)

const (
	MediaTypeCalendar = "text/calendar"
	MediaTypeZip      = "application/zip"
)

// Download is one file handed to the download mechanism.
type Download struct {
	Filename  string
	MediaType string
	Content   []byte
	// SaveAs asks the user to confirm or change the target location.
	SaveAs bool
}

// Downloader saves a Download. It reports whether the download could be
// started, not whether the user kept the file.
type Downloader interface {
	Download(ctx context.Context, d Download) error
}

// Archiver packs named entries into a single archive.
type Archiver interface {
	Archive(entries []model.NamedContent) ([]byte, error)
}

// Opener opens a URL in a new browsing context.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// Outcome tells which path a subscription took.
type Outcome int

const (
	// OutcomeOpened means the webcal URI was handed to the OS.
	OutcomeOpened Outcome = iota + 1
	// OutcomeFallback means the help page was opened instead.
	OutcomeFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOpened:
		return "opened"
	case OutcomeFallback:
		return "fallback"
	default:
		return "none"
	}
}

// SubscribeResult reports the subscription path taken and the URIs that
// were stored for the hand-off page.
type SubscribeResult struct {
	Outcome     Outcome
	WebcalURI   string
	DownloadURL string
	HelpURL     string
}

// Dispatcher routes artifacts to the configured collaborators.
type Dispatcher struct {
	Downloader Downloader
	Archiver   Archiver
	Opener     Opener
	Store      store.Store

	// HandoffURL is the base URL of the hand-off server (help page).
	HandoffURL string
	// Pause separates fallback downloads.
	Pause time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(dl Downloader, ar Archiver, op Opener, st store.Store, handoffURL string, pause time.Duration) *Dispatcher {
	return &Dispatcher{
		Downloader: dl,
		Archiver:   ar,
		Opener:     op,
		Store:      st,
		HandoffURL: strings.TrimRight(handoffURL, "/"),
		Pause:      pause,
		sleep:      sleepCtx,
	}
}

// Direct downloads one calendar with a save-as prompt.
func (d *Dispatcher) Direct(ctx context.Context, content []byte, filename string) error {
	appLog.Info("downloading calendar", "filename", filename, "bytes", len(content))
	return d.Downloader.Download(ctx, Download{
		Filename:  filename,
		MediaType: MediaTypeCalendar,
		Content:   content,
		SaveAs:    true,
	})
}

// Batch archives entries into one zip and downloads it with a save-as
// prompt. If the archive cannot be produced or saved, every entry is
// downloaded on its own, one at a time with a pause after each. Only a
// failure of that fallback is reported. A declined prompt is the user's
// answer and ends the delivery without a fallback.
func (d *Dispatcher) Batch(ctx context.Context, entries []model.NamedContent, archiveName string) error {
	archiveErr := d.archiveAndDownload(ctx, entries, archiveName)
	if archiveErr == nil {
		return nil
	}
	if errors.Is(archiveErr, ErrSaveDeclined) {
		appLog.Info("archive download declined", "filename", archiveName)
		return archiveErr
	}
	appLog.Error("archive delivery failed; falling back to individual downloads", archiveErr, "entries", len(entries))

	for _, e := range entries {
		err := d.Downloader.Download(ctx, Download{
			Filename:  e.Name,
			MediaType: MediaTypeCalendar,
			Content:   e.Content,
			SaveAs:    false,
		})
		if err != nil {
			return fmt.Errorf("fallback download of %s failed: %w", e.Name, err)
		}
		if err := d.sleep(ctx, d.Pause); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) archiveAndDownload(ctx context.Context, entries []model.NamedContent, archiveName string) error {
	if d.Archiver == nil {
		return errors.New("no archiver configured")
	}
	data, err := d.Archiver.Archive(entries)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	appLog.Info("downloading archive", "filename", archiveName, "entries", len(entries), "bytes", len(data))
	return d.Downloader.Download(ctx, Download{
		Filename:  archiveName,
		MediaType: MediaTypeZip,
		Content:   data,
		SaveAs:    true,
	})
}

// Subscribe stores the hand-off keys and opens the webcal URI. When the
// URI cannot be opened, the help page is opened instead. Both outcomes are
// successful; an error means the hand-off could not be prepared or no
// browsing context could be opened at all.
func (d *Dispatcher) Subscribe(ctx context.Context, content []byte, filename string) (SubscribeResult, error) {
	b64 := base64.StdEncoding.EncodeToString(content)
	res := SubscribeResult{
		WebcalURI:   "webcal:" + DataURI(MediaTypeCalendar+";charset=utf-8", b64),
		DownloadURL: DataURI(MediaTypeCalendar+";charset=utf-8", b64),
		HelpURL:     d.HandoffURL + "/webcal-help",
	}

	if err := d.Store.SetMany(map[string]any{
		store.KeyWebcalDataURI:    res.WebcalURI,
		store.KeyDownloadURL:      res.DownloadURL,
		store.KeyCalendarFilename: filename,
	}); err != nil {
		return res, fmt.Errorf("store subscription hand-off: %w", err)
	}

	if err := d.Opener.Open(ctx, res.WebcalURI); err != nil {
		appLog.Warn("opening webcal URI failed; showing instructions page", "err", err)
		if herr := d.Opener.Open(ctx, res.HelpURL); herr != nil {
			return res, fmt.Errorf("open help page: %w", herr)
		}
		res.Outcome = OutcomeFallback
		return res, nil
	}
	res.Outcome = OutcomeOpened
	return res, nil
}

// DataURI builds data:<mediaType>;base64,<payload>.
func DataURI(mediaType, b64 string) string {
	return "data:" + mediaType + ";base64," + b64
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
