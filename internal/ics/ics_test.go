package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n")
}

var sampleFeed = crlf(
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//univie//ufind//EN",
	"BEGIN:VEVENT",
	"UID:1@ufind",
	"DTSTART:20241001T100000Z",
	"DTEND:20241001T113000Z",
	"SUMMARY:VO Lecture",
	"LOCATION:HS 1",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:2@ufind",
	"DTSTART:20241008T100000Z",
	"DTEND:20241008T113000Z",
	"LOCATION:HS 1",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:3@ufind",
	"DTSTART:20241015T100000Z",
	"DTEND:20241015T113000Z",
	"SUMMARY:Exam $1 review",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
)

func TestRegexExtractor(t *testing.T) {
	blocks := RegexExtractor{}.Extract([]byte(sampleFeed), "Algorithms")
	require.Len(t, blocks, 3)

	assert.True(t, strings.HasPrefix(blocks[0], "BEGIN:VEVENT\r\nUID:1@ufind"))
	assert.Contains(t, blocks[0], "\r\nSUMMARY:Algorithms: VO Lecture\r\n")
	assert.True(t, strings.HasSuffix(blocks[0], "END:VEVENT"))

	// Missing SUMMARY is injected right after the begin marker.
	assert.True(t, strings.HasPrefix(blocks[1], "BEGIN:VEVENT\r\nSUMMARY:Algorithms\r\nUID:2@ufind"))

	// Replacement text is literal, not a regexp template.
	assert.Contains(t, blocks[2], "SUMMARY:Algorithms: Exam $1 review")

	for _, b := range blocks {
		assert.Equal(t, 1, strings.Count(b, "BEGIN:VEVENT"))
		assert.Equal(t, 1, strings.Count(b, "SUMMARY:"))
	}
}

func TestRegexExtractorIsIdempotent(t *testing.T) {
	first := RegexExtractor{}.Extract([]byte(sampleFeed), "Algorithms")
	second := RegexExtractor{}.Extract([]byte(strings.Join(first, "\r\n")), "Algorithms")
	assert.Equal(t, first, second)
	assert.NotContains(t, strings.Join(second, ""), "Algorithms: Algorithms")
}

func TestRegexExtractorNoEvents(t *testing.T) {
	blocks := RegexExtractor{}.Extract([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR"), "X")
	assert.NotNil(t, blocks)
	assert.Empty(t, blocks)
}

func TestRegexExtractorSummaryParameterLineUntouched(t *testing.T) {
	feed := crlf("BEGIN:VEVENT", "X-ALT-SUMMARY:keep", "SUMMARY:Talk", "END:VEVENT")
	blocks := RegexExtractor{}.Extract([]byte(feed), "Logic")
	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0], "X-ALT-SUMMARY:keep\r\n")
	assert.Contains(t, blocks[0], "SUMMARY:Logic: Talk")
}

func TestPrefixedTitle(t *testing.T) {
	tests := []struct {
		title, summary, want string
	}{
		{"Logic", "VO", "Logic: VO"},
		{"Logic", "Logic: VO", "Logic: VO"},
		{"Logic", "Logic", "Logic"},
		{"Logic", "", "Logic"},
		{"Logic", "Logical VO", "Logic: Logical VO"},
	}
	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			assert.Equal(t, tt.want, PrefixedTitle(tt.title, tt.summary))
		})
	}
}

func TestStructuredExtractor(t *testing.T) {
	blocks := StructuredExtractor{}.Extract([]byte(sampleFeed), "Algorithms")
	require.Len(t, blocks, 3)
	for _, b := range blocks {
		assert.True(t, strings.HasPrefix(b, "BEGIN:VEVENT"))
		assert.True(t, strings.HasSuffix(b, "END:VEVENT"))
		assert.Contains(t, b, "SUMMARY:Algorithms")
	}
	assert.Contains(t, blocks[0], "SUMMARY:Algorithms: VO Lecture")

	again := StructuredExtractor{}.Extract([]byte(crlf("BEGIN:VCALENDAR", strings.Join(blocks, "\r\n"), "END:VCALENDAR")), "Algorithms")
	require.Len(t, again, 3)
	assert.NotContains(t, strings.Join(again, ""), "Algorithms: Algorithms")
}

func TestNewExtractor(t *testing.T) {
	assert.IsType(t, StructuredExtractor{}, NewExtractor("structured"))
	assert.IsType(t, RegexExtractor{}, NewExtractor("regex"))
	assert.IsType(t, RegexExtractor{}, NewExtractor(""))
}

func TestCountEvents(t *testing.T) {
	assert.Equal(t, 3, CountEvents([]byte(sampleFeed)))
}

func TestComposeGolden(t *testing.T) {
	want, err := os.ReadFile(filepath.Join("testdata", "merged.golden"))
	require.NoError(t, err)

	blocks := []string{
		crlf("BEGIN:VEVENT", "UID:1@ufind", "SUMMARY:Algorithms: VO", "END:VEVENT"),
		crlf("BEGIN:VEVENT", "SUMMARY:Databases", "UID:2@ufind", "END:VEVENT"),
	}
	got := Compose(blocks, "2024W")
	assert.Equal(t, string(want), string(got))
	assert.Equal(t, got, Compose(blocks, "2024W"))
}

func TestComposeEnvelopeForAnyEventCount(t *testing.T) {
	feeds := []string{
		"",
		sampleFeed,
		crlf("BEGIN:VCALENDAR", "BEGIN:VEVENT", "UID:x", "END:VEVENT", "END:VCALENDAR"),
	}
	for _, feed := range feeds {
		out := string(Compose(RegexExtractor{}.Extract([]byte(feed), "T"), "2024W"))
		assert.True(t, strings.HasPrefix(out, Header("2024W")))
		assert.True(t, strings.HasSuffix(out, "END:VCALENDAR"))
		assert.Equal(t, 1, strings.Count(out, "BEGIN:VCALENDAR"))
		assert.Equal(t, strings.Count(feed, "BEGIN:VEVENT"), strings.Count(out, "BEGIN:VEVENT"))
	}
	assert.Equal(t, Header("S")+"END:VCALENDAR", string(Compose(nil, "S")))
}

func TestFetcherBuildsFeedURL(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL+"/courses/", "", time.Second)
	body, err := f.Fetch(context.Background(), "250111", "2024W")
	require.NoError(t, err)
	assert.Equal(t, sampleFeed, string(body))
	assert.Equal(t, "/courses/250111/2024W/1/ww.ics", gotPath.Load())
}

func TestFetcherFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	f := NewFetcher(srv.URL, "", time.Second)

	_, err := f.Fetch(context.Background(), "1", "2024W")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	_, err = f.Fetch(context.Background(), "", "2024W")
	assert.True(t, errors.Is(err, ErrNoCourseID))

	dead := NewFetcher("http://127.0.0.1:1", "", time.Second)
	_, err = dead.Fetch(context.Background(), "1", "2024W")
	assert.Error(t, err)
}

func TestFetcherConditionalCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		switch {
		case n == 1:
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(sampleFeed))
		case r.Header.Get("If-None-Match") == `"v1"` && n == 2:
			w.WriteHeader(http.StatusNotModified)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, t.TempDir(), time.Second)
	first, err := f.Fetch(context.Background(), "7", "2024W")
	require.NoError(t, err)

	second, err := f.Fetch(context.Background(), "7", "2024W")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Failures never fall back to the cached copy.
	_, err = f.Fetch(context.Background(), "7", "2024W")
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://m2-ufind.univie.ac.at/...(redacted)", redactURL("https://m2-ufind.univie.ac.at/courses/1/2024W/1/ww.ics"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
