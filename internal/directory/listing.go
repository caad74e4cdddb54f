package directory

import (
	"strings"

	"github.com/tidwall/gjson"

	"uspacecal/internal/model"
)

// ParseListing maps listing entries to courses. Lecture entries carry a
// "lehrveranstaltung" object, exam entries a "pruefung" object; anything
// else is dropped.
func ParseListing(listing gjson.Result) []model.Course {
	courses := make([]model.Course, 0, len(listing.Array()))
	listing.ForEach(func(_, item gjson.Result) bool {
		status := item.Get("status").String()
		switch {
		case item.Get("lehrveranstaltung").IsObject():
			courses = append(courses, parseLecture(item.Get("lehrveranstaltung"), status))
		case item.Get("pruefung").IsObject():
			courses = append(courses, parseExam(item.Get("pruefung"), status))
		}
		return true
	})
	return courses
}

func parseLecture(lv gjson.Result, status string) model.Course {
	c := model.Course{
		Title:       orDefault(lv.Get("titel").String(), "Unknown Course"),
		ID:          lv.Get("lvNr").String(),
		Category:    lv.Get("typ").String(),
		Instructors: []string{},
		Status:      status,
	}
	for _, teacher := range lv.Get("lehrende").Array() {
		name := personName(teacher)
		if role := teacher.Get("rolle").String(); role != "" {
			name += " (" + role + ")"
		}
		c.Instructors = append(c.Instructors, name)
	}
	c.Occurrences = parseDates(lv.Get("termine"))
	return c
}

func parseExam(p gjson.Result, status string) model.Course {
	c := model.Course{
		Title:       orDefault(p.Get("lehrinhaltTitel").String(), "Unknown Exam"),
		ID:          p.Get("extId").String(),
		Category:    model.CategoryExam,
		Instructors: []string{},
		Status:      status,
	}
	for _, examiner := range p.Get("pruefer").Array() {
		c.Instructors = append(c.Instructors, personName(examiner))
	}
	c.Occurrences = parseDates(p.Get("termine"))
	return c
}

func personName(p gjson.Result) string {
	return strings.TrimSpace(p.Get("vorname").String() + " " + p.Get("nachname").String())
}

// parseDates renders "<beginn> - <ende>[, <raum>]"; entries missing either
// bound are skipped.
func parseDates(termine gjson.Result) []string {
	dates := []string{}
	for _, t := range termine.Array() {
		begin := t.Get("beginn").String()
		end := t.Get("ende").String()
		if begin == "" || end == "" {
			continue
		}
		info := begin + " - " + end
		if room := t.Get("raumName").String(); room != "" {
			info += ", " + room
		}
		dates = append(dates, info)
	}
	return dates
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
