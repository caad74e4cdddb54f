package web

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"

	appLog "uspacecal/internal/log"
	"uspacecal/internal/model"
	"uspacecal/internal/store"
)

const pageHead = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:42rem;margin:2rem auto;padding:0 1rem}
.btn{display:inline-block;padding:.5rem 1rem;border-radius:4px;background:#0063a6;color:#fff;text-decoration:none}
.course-item{display:flex;justify-content:space-between;align-items:center;padding:.5rem 0;border-bottom:1px solid #ddd}
.course-details{color:#666;font-size:.9em}
</style>
</head>
<body>
`

var helpTmpl = template.Must(template.New("webcal-help").Parse(pageHead + `<h1>{{.Title}}</h1>
<p>Your calendar application did not pick up the subscription link. Try again, or download the file and import it by hand.</p>
{{if .WebcalURI}}<p><a id="try-again-btn" class="btn" href="{{.WebcalURI}}">Try again</a></p>{{end}}
{{if .DownloadURL}}<p><a id="download-btn" class="btn" href="{{.DownloadURL}}" download="{{.Filename}}">Download {{.Filename}}</a></p>{{end}}
</body>
</html>
`))

var coursesTmpl = template.Must(template.New("course-webcal").Parse(pageHead + `<h1>{{.Title}}</h1>
<p id="semester-info">{{if .Semester}}Semester: {{.Semester}}{{else}}No semester selected{{end}}</p>
{{if .Courses}}<p><button id="subscribe-all" class="btn" type="button">Subscribe to all</button></p>
<ul id="course-list">
{{range .Courses}}<li class="course-item">
<div class="course-info"><div class="course-title">{{.Title}}</div><div class="course-details">{{.Details}}</div></div>
<a class="btn webcal-link" href="{{.WebcalURL}}">Add to Calendar</a>
</li>
{{end}}</ul>
<script>
document.getElementById('subscribe-all').addEventListener('click', function () {
  if (!confirm('This will open subscription links for all your courses. Continue?')) return;
  document.querySelectorAll('#course-list a.webcal-link').forEach(function (a) {
    window.open(a.href, '_blank');
  });
});
</script>
{{else}}<p id="no-courses">No courses with a calendar feed were found.</p>{{end}}
</body>
</html>
`))

type helpPage struct {
	Lang        string
	Title       string
	WebcalURI   template.URL
	DownloadURL template.URL
	Filename    string
}

type coursePage struct {
	Lang     string
	Title    string
	Semester string
	Courses  []courseLink
}

type courseLink struct {
	Title     string
	Details   string
	WebcalURL template.URL
}

// handleWebcalHelp renders the instructions page shown when the webcal
// URI could not be opened. Links whose stored value is missing are hidden.
func (s *Server) handleWebcalHelp(w http.ResponseWriter, _ *http.Request) {
	page := helpPage{
		Lang:  s.lang(),
		Title: "Subscribe to your calendar",
		// Values were produced by deliver.Dispatcher; data: and webcal:
		// schemes would otherwise be filtered by html/template.
		WebcalURI: template.URL(s.store.Get(store.KeyWebcalDataURI).String()),
	}
	if dl, fn := s.store.Get(store.KeyDownloadURL).String(), s.store.Get(store.KeyCalendarFilename).String(); dl != "" && fn != "" {
		page.DownloadURL = template.URL(dl)
		page.Filename = fn
	}
	render(w, helpTmpl, page)
}

// handleCourseWebcal lists the handed-off courses, each with its own
// webcal subscription link. Courses without an ID are left out.
func (s *Server) handleCourseWebcal(w http.ResponseWriter, _ *http.Request) {
	semester := s.store.Get(store.KeyWebcalSemester).String()

	var courses []model.Course
	if raw := s.store.Get(store.KeyWebcalCourses).Raw; raw != "" {
		if err := json.Unmarshal([]byte(raw), &courses); err != nil {
			appLog.Error("decoding handed-off courses failed", err)
		}
	}
	courses = lo.Filter(courses, func(c model.Course, _ int) bool { return c.ID != "" })

	base := ""
	if s.cfg != nil {
		base = s.cfg.FeedBaseURL
	}
	page := coursePage{
		Lang:     s.lang(),
		Title:    "Subscribe to individual courses",
		Semester: semester,
	}
	for _, c := range courses {
		u, err := WebcalFeedURL(base, c.ID, semester)
		if err != nil {
			appLog.Error("building webcal link failed", err, "course_id", c.ID)
			continue
		}
		page.Courses = append(page.Courses, courseLink{
			Title:     c.Title,
			Details:   courseDetails(c),
			WebcalURL: template.URL(u),
		})
	}
	render(w, coursesTmpl, page)
}

// WebcalFeedURL turns a course feed URL into its webcal:// form:
// webcal://<feed host>/<feed path>/<id>/<semester>/1/ww.ics
func WebcalFeedURL(feedBaseURL, courseID, semester string) (string, error) {
	u, err := url.Parse(feedBaseURL)
	if err != nil {
		return "", err
	}
	u = u.JoinPath(courseID, semester, "1", "ww.ics")
	u.Scheme = "webcal"
	return u.String(), nil
}

func courseDetails(c model.Course) string {
	parts := lo.Compact([]string{c.Category, strings.Join(c.Instructors, ", ")})
	return strings.Join(parts, " | ")
}

func (s *Server) lang() string {
	if l := s.store.Get(store.KeyLanguage).String(); l != "" {
		return l
	}
	return "en"
}

func render(w http.ResponseWriter, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := t.Execute(w, data); err != nil {
		appLog.Error("rendering page failed", err, "page", t.Name())
	}
}
