package ics

import (
	"regexp"
	"strings"
)

// Extractor pulls the VEVENT blocks out of one course feed and prefixes
// each event's SUMMARY with the course title.
type Extractor interface {
	Extract(feed []byte, courseTitle string) []string
}

// NewExtractor returns the extractor selected by name ("regex" or
// "structured"). Unknown names fall back to the regex extractor.
func NewExtractor(name string) Extractor {
	if name == "structured" {
		return StructuredExtractor{}
	}
	return RegexExtractor{}
}

var (
	eventBlockRe = regexp.MustCompile(`BEGIN:VEVENT[\s\S]*?END:VEVENT`)
	summaryRe    = regexp.MustCompile(`(?m)^SUMMARY:([^\r\n]*)`)
)

// RegexExtractor scans the feed text for BEGIN:VEVENT ... END:VEVENT pairs
// (non-greedy) and rewrites the first SUMMARY line of each block. Everything
// else in a block is passed through byte for byte.
type RegexExtractor struct{}

func (RegexExtractor) Extract(feed []byte, courseTitle string) []string {
	matches := eventBlockRe.FindAllString(string(feed), -1)
	blocks := make([]string, 0, len(matches))
	for _, ev := range matches {
		blocks = append(blocks, prefixSummary(ev, courseTitle))
	}
	return blocks
}

func prefixSummary(event, courseTitle string) string {
	loc := summaryRe.FindStringSubmatchIndex(event)
	if loc == nil {
		// No SUMMARY at all: inject one right after the begin marker.
		const begin = "BEGIN:VEVENT"
		return begin + "\r\nSUMMARY:" + courseTitle + event[len(begin):]
	}
	current := event[loc[2]:loc[3]]
	updated := PrefixedTitle(courseTitle, current)
	return event[:loc[2]] + updated + event[loc[3]:]
}

// PrefixedTitle returns "<courseTitle>: <summary>". A summary that already
// carries the prefix is returned unchanged so extraction is idempotent; an
// empty summary becomes the bare course title.
func PrefixedTitle(courseTitle, summary string) string {
	if summary == "" || summary == courseTitle {
		return courseTitle
	}
	if strings.HasPrefix(summary, courseTitle+": ") {
		return summary
	}
	return courseTitle + ": " + summary
}
