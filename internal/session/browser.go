package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "uspacecal/internal/log"
	"uspacecal/internal/model"
)

// loggedInSelector matches the portal header once a user is signed in.
const loggedInSelector = `.username, .user-fullname`

const extractUserJS = `(() => ({
  fullname: document.querySelector('.user-fullname')?.textContent?.trim() || '',
  username: document.querySelector('.username')?.textContent?.trim() || ''
}))()`

// ChromeBrowser drives a visible Chromium window through chromedp. The
// user signs in manually; the browser only watches for the logged-in
// header and then reads the cookies.
type ChromeBrowser struct {
	// Headless is only useful with an already signed-in profile.
	Headless bool
	// UserDataDir reuses a Chromium profile when set.
	UserDataDir string
}

func (b ChromeBrowser) Capture(parentCtx context.Context, portalURL string) (Capture, error) {
	if portalURL == "" {
		return Capture{}, fmt.Errorf("login: portal URL is required")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.Headless),
		chromedp.WindowSize(1100, 900),
	)
	if b.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(b.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var (
		user    model.UserInfo
		cookies []*network.Cookie
	)
	tasks := chromedp.Tasks{
		chromedp.Navigate(portalURL),
		// Blocks until the user has completed the portal login.
		chromedp.WaitVisible(loggedInSelector, chromedp.ByQuery),
		chromedp.Evaluate(extractUserJS, &user),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{portalURL}).Do(ctx)
			return err
		}),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Capture{}, fmt.Errorf("%w: %v", ErrLoginCanceled, err)
		}
		return Capture{}, fmt.Errorf("login: chromedp run failed: %w", err)
	}

	out := Capture{User: user, Cookies: make([]Cookie, 0, len(cookies))}
	for _, c := range cookies {
		out.Cookies = append(out.Cookies, Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain})
	}
	appLog.Debug("login capture complete", "cookies", len(out.Cookies))
	return out, nil
}
