package model

import (
	"fmt"
	"regexp"
	"strings"
)

// CategoryExam is the category assigned to exam registrations.
const CategoryExam = "Prüfung"

// Course is one registration entry (lecture or exam) of a semester listing.
// An empty ID means the entry has no calendar feed.
type Course struct {
	Title       string   `json:"title"`
	ID          string   `json:"lvNr"`
	Category    string   `json:"type"`
	Instructors []string `json:"teachers"`
	Occurrences []string `json:"dates"`
	Status      string   `json:"status"`
}

// RawFeed is the unparsed calendar text of one course.
type RawFeed struct {
	CourseTitle string
	Body        []byte
}

// NamedContent is one entry of a batch delivery.
type NamedContent struct {
	Name    string
	Content []byte
}

// UserInfo describes the logged-in student.
type UserInfo struct {
	Fullname       string `json:"fullname"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Mode selects how feeds are delivered.
type Mode string

const (
	// ModeMerged delivers one calendar containing every course's events.
	ModeMerged Mode = "merged"
	// ModeBatch delivers one calendar per course inside an archive.
	ModeBatch Mode = "batch"
)

// ParseMode accepts the CLI/API spellings of a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "merged", "merge", "single", "":
		return ModeMerged, nil
	case "batch", "separate", "zip":
		return ModeBatch, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want merged or batch)", s)
	}
}

// Transport selects how the finished artifact leaves the program.
type Transport string

const (
	TransportDownload Transport = "download"
	TransportWebcal   Transport = "webcal"
)

// ParseTransport accepts the CLI/API spellings of a Transport.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "download", "file", "":
		return TransportDownload, nil
	case "webcal", "subscribe", "subscription":
		return TransportWebcal, nil
	default:
		return "", fmt.Errorf("unknown transport %q (want download or webcal)", s)
	}
}

// DeliveryRequest describes one aggregation run.
type DeliveryRequest struct {
	Mode      Mode
	Transport Transport
	Semester  string
	// Courses, when non-empty, replaces the portal listing for this run.
	Courses []Course

	// SelectCourses hands the listing to the course-selection page instead
	// of building a merged subscription. Only meaningful with TransportWebcal.
	SelectCourses bool
}

// EffectiveMode is the mode actually used for the run: a subscription link
// always needs exactly one artifact, so webcal forces ModeMerged.
func (r DeliveryRequest) EffectiveMode() Mode {
	if r.Transport == TransportWebcal {
		return ModeMerged
	}
	if r.Mode == "" {
		return ModeMerged
	}
	return r.Mode
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	unsafeChar    = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// SemesterSlug replaces whitespace runs with underscores.
func SemesterSlug(semester string) string {
	return whitespaceRun.ReplaceAllString(semester, "_")
}

// MergedFilename is the file name of the single merged calendar.
func MergedFilename(semester string) string {
	return "All_Courses_" + SemesterSlug(semester) + ".ics"
}

// ArchiveFilename is the file name of the batch archive.
func ArchiveFilename(semester string) string {
	return "Calendar_" + SemesterSlug(semester) + ".zip"
}

// SafeFilename turns a course title into a file name by replacing every
// character outside [a-zA-Z0-9] with an underscore and adding ".ics".
func SafeFilename(title string) string {
	return unsafeChar.ReplaceAllString(title, "_") + ".ics"
}
