package ics

import (
	"bytes"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "uspacecal/internal/log"
)

var serialConfig = &ical.SerializationConfiguration{
	MaxLength:         75,
	PropertyMaxLength: 75,
	NewLine:           "\r\n",
}

// StructuredExtractor parses the feed with golang-ical instead of scanning
// for markers. Events are re-serialised by the library, so line folding may
// differ from the source feed. Feeds the library rejects are handed to
// RegexExtractor.
type StructuredExtractor struct{}

func (StructuredExtractor) Extract(feed []byte, courseTitle string) []string {
	cal, err := ical.ParseCalendar(bytes.NewReader(feed))
	if err != nil {
		appLog.Warn("structured parse failed; falling back to regex extractor", "course", courseTitle, "err", err)
		return RegexExtractor{}.Extract(feed, courseTitle)
	}

	events := cal.Events()
	blocks := make([]string, 0, len(events))
	for _, ev := range events {
		summary := ""
		if p := ev.GetProperty(ical.ComponentPropertySummary); p != nil {
			summary = p.Value
		}
		ev.SetSummary(PrefixedTitle(courseTitle, summary))
		blocks = append(blocks, strings.TrimRight(ev.Serialize(serialConfig), "\r\n"))
	}
	return blocks
}

// CountEvents reports how many VEVENTs golang-ical finds in a feed. It is
// used for run statistics only; -1 means the feed did not parse.
func CountEvents(feed []byte) int {
	cal, err := ical.ParseCalendar(bytes.NewReader(feed))
	if err != nil {
		return -1
	}
	return len(cal.Events())
}
