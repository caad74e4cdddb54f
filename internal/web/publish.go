package web

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"uspacecal/internal/deliver"
	appLog "uspacecal/internal/log"
)

type published struct {
	mediaType string
	content   []byte
	updatedAt time.Time
}

// FeedPublisher keeps the latest artifact per filename in memory and
// serves it under /calendar/{name}. It is a deliver.Downloader, so the
// dispatcher can deliver straight to it.
type FeedPublisher struct {
	mu    sync.RWMutex
	files map[string]published
	now   func() time.Time
}

func NewFeedPublisher() *FeedPublisher {
	return &FeedPublisher{
		files: make(map[string]published),
		now:   time.Now,
	}
}

// Download replaces the published artifact of the same name. SaveAs is
// meaningless here and ignored.
func (p *FeedPublisher) Download(_ context.Context, d deliver.Download) error {
	p.mu.Lock()
	p.files[d.Filename] = published{
		mediaType: d.MediaType,
		content:   bytes.Clone(d.Content),
		updatedAt: p.now(),
	}
	p.mu.Unlock()
	appLog.Info("calendar published", "name", d.Filename, "bytes", len(d.Content))
	return nil
}

// Names lists the published filenames.
func (p *FeedPublisher) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.files))
	for n := range p.files {
		names = append(names, n)
	}
	return names
}

func (p *FeedPublisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	p.mu.RLock()
	f, ok := p.files[name]
	p.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	mediaType := f.mediaType
	if mediaType == deliver.MediaTypeCalendar {
		mediaType += "; charset=utf-8"
	}
	w.Header().Set("Content-Type", mediaType)
	// ServeContent handles If-Modified-Since for polling calendar clients.
	http.ServeContent(w, r, name, f.updatedAt, bytes.NewReader(f.content))
}
