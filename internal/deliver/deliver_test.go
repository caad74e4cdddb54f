package deliver

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uspacecal/internal/model"
	"uspacecal/internal/store"
)

type recordingDownloader struct {
	calls  []Download
	failOn map[string]error
}

func (r *recordingDownloader) Download(_ context.Context, d Download) error {
	r.calls = append(r.calls, d)
	return r.failOn[d.Filename]
}

type failingArchiver struct{}

func (failingArchiver) Archive([]model.NamedContent) ([]byte, error) {
	return nil, errors.New("out of memory")
}

type recordingOpener struct {
	opened []string
	fail   func(url string) error
}

func (r *recordingOpener) Open(_ context.Context, url string) error {
	r.opened = append(r.opened, url)
	if r.fail != nil {
		return r.fail(url)
	}
	return nil
}

// events records downloads and pauses in order.
type events struct{ log []string }

func newTestDispatcher(dl Downloader, ar Archiver, op Opener, st store.Store, ev *events) *Dispatcher {
	d := NewDispatcher(dl, ar, op, st, "http://127.0.0.1:8765/", 500*time.Millisecond)
	d.sleep = func(_ context.Context, p time.Duration) error {
		if ev != nil {
			ev.log = append(ev.log, "pause:"+p.String())
		}
		return nil
	}
	return d
}

var entries = []model.NamedContent{
	{Name: "Algorithms.ics", Content: []byte("A")},
	{Name: "Databases.ics", Content: []byte("B")},
	{Name: "Logic.ics", Content: []byte("C")},
}

func TestDirect(t *testing.T) {
	dl := &recordingDownloader{}
	d := newTestDispatcher(dl, nil, nil, nil, nil)

	require.NoError(t, d.Direct(context.Background(), []byte("BEGIN:VCALENDAR"), "All_Courses_2024W.ics"))
	require.Len(t, dl.calls, 1)
	assert.Equal(t, "All_Courses_2024W.ics", dl.calls[0].Filename)
	assert.Equal(t, MediaTypeCalendar, dl.calls[0].MediaType)
	assert.True(t, dl.calls[0].SaveAs)
}

func TestBatchArchives(t *testing.T) {
	dl := &recordingDownloader{}
	d := newTestDispatcher(dl, ZipArchiver{}, nil, nil, nil)

	require.NoError(t, d.Batch(context.Background(), entries, "Calendar_2024W.zip"))
	require.Len(t, dl.calls, 1)
	call := dl.calls[0]
	assert.Equal(t, "Calendar_2024W.zip", call.Filename)
	assert.Equal(t, MediaTypeZip, call.MediaType)
	assert.True(t, call.SaveAs)

	zr, err := zip.NewReader(bytes.NewReader(call.Content), int64(len(call.Content)))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)
	f, err := zr.File[1].Open()
	require.NoError(t, err)
	body, _ := io.ReadAll(f)
	assert.Equal(t, "Databases.ics", zr.File[1].Name)
	assert.Equal(t, "B", string(body))
}

func TestBatchFallbackOnArchiveFailure(t *testing.T) {
	ev := &events{}
	dl := &recordingDownloader{}
	d := newTestDispatcher(&orderedDownloader{inner: dl, ev: ev}, failingArchiver{}, nil, nil, ev)

	require.NoError(t, d.Batch(context.Background(), entries, "Calendar_2024W.zip"))
	require.Len(t, dl.calls, 3)
	for i, c := range dl.calls {
		assert.Equal(t, entries[i].Name, c.Filename)
		assert.False(t, c.SaveAs)
	}
	assert.Equal(t, []string{
		"download:Algorithms.ics", "pause:500ms",
		"download:Databases.ics", "pause:500ms",
		"download:Logic.ics", "pause:500ms",
	}, ev.log)
}

func TestBatchFallbackFailureSurfaces(t *testing.T) {
	dl := &recordingDownloader{failOn: map[string]error{"Databases.ics": errors.New("disk full")}}
	d := newTestDispatcher(dl, failingArchiver{}, nil, nil, nil)

	err := d.Batch(context.Background(), entries, "Calendar_2024W.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Databases.ics")
	assert.Len(t, dl.calls, 2)
}

func TestBatchFallbackWhenArchiveDownloadFails(t *testing.T) {
	dl := &recordingDownloader{failOn: map[string]error{"Calendar_2024W.zip": errors.New("denied")}}
	d := newTestDispatcher(dl, ZipArchiver{}, nil, nil, nil)

	require.NoError(t, d.Batch(context.Background(), entries, "Calendar_2024W.zip"))
	assert.Len(t, dl.calls, 4)
}

type orderedDownloader struct {
	inner *recordingDownloader
	ev    *events
}

func (o *orderedDownloader) Download(ctx context.Context, d Download) error {
	o.ev.log = append(o.ev.log, "download:"+d.Filename)
	return o.inner.Download(ctx, d)
}

func TestSubscribeOpensWebcal(t *testing.T) {
	st := store.NewMemory()
	op := &recordingOpener{}
	d := newTestDispatcher(nil, nil, op, st, nil)

	content := []byte("BEGIN:VCALENDAR\nEND:VCALENDAR")
	res, err := d.Subscribe(context.Background(), content, "All_Courses_2024W.ics")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, res.Outcome)

	b64 := base64.StdEncoding.EncodeToString(content)
	assert.Equal(t, "webcal:data:text/calendar;charset=utf-8;base64,"+b64, res.WebcalURI)
	assert.Equal(t, "data:text/calendar;charset=utf-8;base64,"+b64, res.DownloadURL)
	assert.Equal(t, []string{res.WebcalURI}, op.opened)

	assert.Equal(t, res.WebcalURI, st.Get(store.KeyWebcalDataURI).String())
	assert.Equal(t, res.DownloadURL, st.Get(store.KeyDownloadURL).String())
	assert.Equal(t, "All_Courses_2024W.ics", st.Get(store.KeyCalendarFilename).String())
}

func TestSubscribeFallsBackToHelpPage(t *testing.T) {
	op := &recordingOpener{fail: func(url string) error {
		if strings.HasPrefix(url, "webcal:") {
			return errors.New("no handler for webcal")
		}
		return nil
	}}
	d := newTestDispatcher(nil, nil, op, store.NewMemory(), nil)

	res, err := d.Subscribe(context.Background(), []byte("x"), "f.ics")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	require.Len(t, op.opened, 2)
	assert.Equal(t, "http://127.0.0.1:8765/webcal-help", op.opened[1])
}

func TestSubscribeFailsWhenNothingOpens(t *testing.T) {
	op := &recordingOpener{fail: func(string) error { return errors.New("headless") }}
	d := newTestDispatcher(nil, nil, op, store.NewMemory(), nil)

	_, err := d.Subscribe(context.Background(), []byte("x"), "f.ics")
	assert.Error(t, err)
}

func TestZipArchiverDuplicateNames(t *testing.T) {
	data, err := ZipArchiver{}.Archive([]model.NamedContent{
		{Name: "Seminar.ics", Content: []byte("1")},
		{Name: "Seminar.ics", Content: []byte("2")},
	})
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, "Seminar.ics", zr.File[0].Name)
	assert.Equal(t, "Seminar_2.ics", zr.File[1].Name)

}

func TestZipArchiverEmpty(t *testing.T) {
	data, err := ZipArchiver{}.Archive(nil)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Empty(t, zr.File)
}

func TestBatchWithoutEntriesDeliversEmptyArchive(t *testing.T) {
	dl := &recordingDownloader{}
	d := newTestDispatcher(dl, ZipArchiver{}, nil, nil, nil)

	require.NoError(t, d.Batch(context.Background(), nil, "Calendar_2024W.zip"))
	require.Len(t, dl.calls, 1)
	assert.Equal(t, "Calendar_2024W.zip", dl.calls[0].Filename)
	assert.Equal(t, MediaTypeZip, dl.calls[0].MediaType)
	assert.True(t, dl.calls[0].SaveAs)
}

func TestBatchDeclinedSaveDoesNotFallBack(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	f := &FileDownloader{Dir: dir, Prompter: &LinePrompter{In: strings.NewReader("n\n"), Out: &out}}
	d := newTestDispatcher(f, ZipArchiver{}, nil, nil, nil)

	err := d.Batch(context.Background(), entries, "Calendar_2024W.zip")
	assert.ErrorIs(t, err, ErrSaveDeclined)

	written, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, written)
}

type answer string

func (a answer) SavePath(_ context.Context, suggested string) (string, error) {
	if a == "" {
		return suggested, nil
	}
	return string(a), nil
}

func TestFileDownloader(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(t.TempDir(), "mine.ics")

	f := &FileDownloader{Dir: dir}
	require.NoError(t, f.Download(context.Background(), Download{Filename: "../a.ics", Content: []byte("A")}))
	got, err := os.ReadFile(filepath.Join(dir, "a.ics"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(got))

	f.Prompter = answer(other)
	require.NoError(t, f.Download(context.Background(), Download{Filename: "b.ics", Content: []byte("B"), SaveAs: true}))
	got, err = os.ReadFile(other)
	require.NoError(t, err)
	assert.Equal(t, "B", string(got))

	// SaveAs=false never prompts.
	require.NoError(t, f.Download(context.Background(), Download{Filename: "c.ics", Content: []byte("C")}))
	_, err = os.Stat(filepath.Join(dir, "c.ics"))
	assert.NoError(t, err)
}

func TestLinePrompter(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	p := &LinePrompter{In: strings.NewReader("\n"), Out: &out}
	got, err := p.SavePath(context.Background(), "/tmp/x.ics")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.ics", got)
	assert.Contains(t, out.String(), "Save as [/tmp/x.ics]")

	p = &LinePrompter{In: strings.NewReader(dir + "\n"), Out: &out}
	got, err = p.SavePath(context.Background(), "/tmp/x.ics")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x.ics"), got)

	p = &LinePrompter{In: strings.NewReader("n\n"), Out: &out}
	_, err = p.SavePath(context.Background(), "/tmp/x.ics")
	assert.ErrorIs(t, err, ErrSaveDeclined)
}

func TestLinePrompterSequentialAnswers(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.ics")
	p := &LinePrompter{In: strings.NewReader(first + "\nn\n"), Out: io.Discard}

	got, err := p.SavePath(context.Background(), "/tmp/a.ics")
	require.NoError(t, err)
	assert.Equal(t, first, got)

	_, err = p.SavePath(context.Background(), "/tmp/b.ics")
	assert.ErrorIs(t, err, ErrSaveDeclined)
}

func TestOpenCommand(t *testing.T) {
	name, args := openCommand("linux", "webcal:data:x")
	assert.Equal(t, "xdg-open", name)
	assert.Equal(t, []string{"webcal:data:x"}, args)

	name, _ = openCommand("darwin", "u")
	assert.Equal(t, "open", name)
	name, args = openCommand("windows", "u")
	assert.Equal(t, "rundll32", name)
	assert.Equal(t, "u", args[1])
}
