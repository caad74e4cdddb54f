package ics

import "bytes"

const (
	// ProductID identifies the merged calendars this program writes.
	ProductID = "-//u:space Calendar Merger//u:space iCal Downloader//EN"
	// CalendarTimezone is declared in every merged calendar.
	CalendarTimezone = "Europe/Vienna"

	envelopeClose = "END:VCALENDAR"
)

// Header returns the fixed envelope header for a merged calendar.
func Header(semesterLabel string) string {
	return "BEGIN:VCALENDAR\n" +
		"VERSION:2.0\n" +
		"PRODID:" + ProductID + "\n" +
		"CALSCALE:GREGORIAN\n" +
		"METHOD:PUBLISH\n" +
		"X-WR-CALNAME:All Courses - " + semesterLabel + "\n" +
		"X-WR-TIMEZONE:" + CalendarTimezone + "\n"
}

// Compose wraps the given event blocks into one calendar. Blocks are copied
// verbatim in the given order, each followed by CRLF; nothing is validated,
// reordered or deduplicated. The output depends only on the inputs.
func Compose(blocks []string, semesterLabel string) []byte {
	var b bytes.Buffer
	b.WriteString(Header(semesterLabel))
	for _, block := range blocks {
		b.WriteString(block)
		b.WriteString("\r\n")
	}
	b.WriteString(envelopeClose)
	return b.Bytes()
}
