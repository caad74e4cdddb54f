// Package directory talks to the portal's registration overview service:
// the semester list, the per-semester course/exam listing and the profile
// picture. Every call is a POST of a "generic request" envelope to a portlet
// resource URL, authenticated with the session cookies.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	appLog "uspacecal/internal/log"
	"uspacecal/internal/model"
)

const (
	registrationService = "as-studierende-anmeldeuebersicht"
	profileService      = "dashboard-profilbereich"

	semestersPath = "/v2/anmeldung/semesters"
	listingPath   = "/v2/anmeldung/semesters/anmeldungen"
	picturePath   = "/v1/profile/ucard-picture"
)

// CookieSource supplies the Cookie header for portal requests.
type CookieSource interface {
	CookieHeader() string
}

// APIError is returned for non-success responses.
type APIError struct {
	StatusCode int
	Path       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request %s failed with status %d", e.Path, e.StatusCode)
}

// genericRequest is the envelope the portlet proxies to the backing service.
type genericRequest struct {
	Request struct {
		Method        string `json:"method"`
		TargetService string `json:"targetService"`
		Path          string `json:"path"`
		QueryParams   string `json:"queryParams"`
		Body          string `json:"body,omitempty"`
	} `json:"request"`
}

// Client is the Course Directory API client.
type Client struct {
	client     *http.Client
	apiURL     string
	profileURL string
}

// NewClient creates a client for the registration (apiURL) and profile
// (profileURL) portlet endpoints.
func NewClient(apiURL, profileURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client:     &http.Client{Timeout: timeout},
		apiURL:     apiURL,
		profileURL: profileURL,
	}
}

// Semesters returns the sorted list of semester tokens the student can
// query. A response that is not an array yields an empty list.
func (c *Client) Semesters(ctx context.Context, cookies CookieSource) ([]string, error) {
	res, err := c.do(ctx, c.apiURL, cookies, http.MethodGet, registrationService, semestersPath, "")
	if err != nil {
		return nil, fmt.Errorf("fetch semesters: %w", err)
	}
	if !res.IsArray() {
		appLog.Warn("unexpected semester response format", "type", res.Type.String())
		return []string{}, nil
	}

	semesters := make([]string, 0, len(res.Array()))
	for _, s := range res.Array() {
		semesters = append(semesters, s.String())
	}
	sort.Strings(semesters)
	appLog.Debug("retrieved semesters", "count", len(semesters))
	return semesters, nil
}

// Courses returns the parsed registrations of one semester. An empty or
// non-array listing yields an empty slice and no error.
func (c *Client) Courses(ctx context.Context, cookies CookieSource, semester string) ([]model.Course, error) {
	body, err := json.Marshal([]string{semester})
	if err != nil {
		return nil, err
	}
	res, err := c.do(ctx, c.apiURL, cookies, http.MethodPost, registrationService, listingPath, string(body))
	if err != nil {
		return nil, fmt.Errorf("fetch courses for %s: %w", semester, err)
	}
	if !res.IsArray() {
		return []model.Course{}, nil
	}
	appLog.Debug("listing entries received", "semester", semester, "entries", len(res.Array()))
	return ParseListing(res), nil
}

// ProfilePicture returns the base64 image of the student card, or "" when
// the service has none.
func (c *Client) ProfilePicture(ctx context.Context, cookies CookieSource) (string, error) {
	res, err := c.do(ctx, c.profileURL, cookies, http.MethodGet, profileService, picturePath, "")
	if err != nil {
		return "", fmt.Errorf("fetch profile picture: %w", err)
	}
	if img := res.Get("image"); img.Exists() && img.String() != "" {
		return img.String(), nil
	}
	return res.Get("photoData").String(), nil
}

func (c *Client) do(ctx context.Context, endpoint string, cookies CookieSource, method, service, path, body string) (gjson.Result, error) {
	var env genericRequest
	env.Request.Method = method
	env.Request.TargetService = service
	env.Request.Path = path
	env.Request.Body = body

	payload, err := json.Marshal(env)
	if err != nil {
		return gjson.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, err
	}
	setStandardHeaders(req, endpoint)
	if cookies != nil {
		if h := cookies.CookieHeader(); h != "" {
			req.Header.Set("Cookie", h)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, &APIError{StatusCode: resp.StatusCode, Path: path}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("API request %s returned invalid JSON", path)
	}
	return gjson.ParseBytes(data), nil
}

func setStandardHeaders(req *http.Request, endpoint string) {
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,de;q=0.8")
	req.Header.Set("Content-Type", "application/json")
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		origin := u.Scheme + "://" + u.Host
		req.Header.Set("Origin", origin)
		req.Header.Set("Referer", origin+u.Path)
	}
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36")
}
