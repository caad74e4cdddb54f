// Package session owns the authenticated portal session. A Session is
// created by an interactive browser login, persisted in the local state
// store and invalidated by Logout or a failed validity check.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"uspacecal/internal/directory"
	appLog "uspacecal/internal/log"
	"uspacecal/internal/model"
	"uspacecal/internal/store"
)

var (
	// ErrNotAuthenticated means no stored session exists.
	ErrNotAuthenticated = errors.New("not logged in; run `uspacecal login` first")
	// ErrSessionExpired means the stored cookies no longer grant access.
	ErrSessionExpired = errors.New("stored session is no longer valid; run `uspacecal login` again")
	// ErrLoginCanceled means the login browser closed before the portal showed a user.
	ErrLoginCanceled = errors.New("authentication canceled")
)

// Cookie is one captured portal cookie.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
}

// Session is the explicit authentication handle passed to portal calls.
type Session struct {
	Cookies   []Cookie       `json:"cookies"`
	User      model.UserInfo `json:"userInfo"`
	Semesters []string       `json:"availableSemesters"`
	CreatedAt time.Time      `json:"createdAt"`
}

// CookieHeader renders the cookies as a Cookie header value.
func (s *Session) CookieHeader() string {
	if s == nil {
		return ""
	}
	return strings.Join(lo.Map(s.Cookies, func(c Cookie, _ int) string {
		return c.Name + "=" + c.Value
	}), "; ")
}

// Capture is what a browser login yields.
type Capture struct {
	Cookies []Cookie
	User    model.UserInfo
}

// Browser performs the interactive part of the login.
type Browser interface {
	Capture(ctx context.Context, portalURL string) (Capture, error)
}

// Directory is the subset of the course directory the provider needs.
type Directory interface {
	Semesters(ctx context.Context, cookies directory.CookieSource) ([]string, error)
	ProfilePicture(ctx context.Context, cookies directory.CookieSource) (string, error)
}

// Provider creates, loads, validates and drops sessions.
type Provider struct {
	store     store.Store
	browser   Browser
	dir       Directory
	portalURL string
	timeout   time.Duration
}

// NewProvider wires a provider. browser may be nil when only stored
// sessions are used.
func NewProvider(st store.Store, browser Browser, dir Directory, portalURL string, loginTimeout time.Duration) *Provider {
	return &Provider{
		store:     st,
		browser:   browser,
		dir:       dir,
		portalURL: portalURL,
		timeout:   loginTimeout,
	}
}

// Login opens the portal in a browser, waits for the user to sign in and
// persists the resulting session. Semester list and profile picture are
// best effort: their failure does not fail the login.
func (p *Provider) Login(ctx context.Context) (*Session, error) {
	if p.browser == nil {
		return nil, errors.New("no login browser configured")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	appLog.Info("starting interactive login", "portal", p.portalURL)
	capt, err := p.browser.Capture(ctx, p.portalURL)
	if err != nil {
		return nil, err
	}
	if len(capt.Cookies) == 0 {
		return nil, errors.New("login finished without any portal cookies")
	}

	sess := &Session{
		Cookies:   capt.Cookies,
		User:      capt.User,
		Semesters: []string{},
		CreatedAt: time.Now().UTC(),
	}

	if p.dir != nil {
		if semesters, err := p.dir.Semesters(ctx, sess); err != nil {
			appLog.Error("fetching semesters after login failed", err)
		} else {
			sess.Semesters = semesters
		}
		if pic, err := p.dir.ProfilePicture(ctx, sess); err != nil {
			appLog.Error("fetching profile picture failed", err)
		} else {
			sess.User.ProfilePicture = pic
		}
	}

	if err := p.save(sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	appLog.Info("login successful", "user", sess.User.Username, "semesters", len(sess.Semesters))
	return sess, nil
}

// Current loads the stored session.
func (p *Provider) Current() (*Session, error) {
	if !p.store.Get(store.KeyAuthenticated).Bool() {
		return nil, ErrNotAuthenticated
	}

	sess := &Session{}
	if raw := p.store.Get(store.KeyCookies).Raw; raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.Cookies); err != nil {
			return nil, fmt.Errorf("decode stored cookies: %w", err)
		}
	}
	if raw := p.store.Get(store.KeyUserInfo).Raw; raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.User); err != nil {
			return nil, fmt.Errorf("decode stored user info: %w", err)
		}
	}
	for _, s := range p.store.Get(store.KeySemesters).Array() {
		sess.Semesters = append(sess.Semesters, s.String())
	}
	if len(sess.Cookies) == 0 {
		return nil, ErrNotAuthenticated
	}
	return sess, nil
}

// Validate checks the stored session against the portal. A session is
// valid while the semester list is non-empty; otherwise it is dropped.
func (p *Provider) Validate(ctx context.Context) (*Session, error) {
	sess, err := p.Current()
	if err != nil {
		return nil, err
	}
	if p.dir == nil {
		return sess, nil
	}

	semesters, err := p.dir.Semesters(ctx, sess)
	if err != nil || len(semesters) == 0 {
		if err != nil {
			appLog.Error("session validity check failed", err)
		}
		if lerr := p.Logout(); lerr != nil {
			appLog.Error("clearing invalid session failed", lerr)
		}
		return nil, ErrSessionExpired
	}

	sess.Semesters = semesters
	if err := p.store.Set(store.KeySemesters, semesters); err != nil {
		appLog.Error("storing semester list failed", err)
	}
	return sess, nil
}

// Logout clears the whole local state, including hand-off payloads.
func (p *Provider) Logout() error {
	if err := p.store.Clear(); err != nil {
		return err
	}
	appLog.Info("logged out")
	return nil
}

func (p *Provider) save(sess *Session) error {
	return p.store.SetMany(map[string]any{
		store.KeyAuthenticated: true,
		store.KeyCookies:       sess.Cookies,
		store.KeyUserInfo:      sess.User,
		store.KeySemesters:     sess.Semesters,
	})
}
