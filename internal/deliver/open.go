package deliver

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	appLog "uspacecal/internal/log"
)

// ExecOpener hands URLs to the desktop's default handler.
type ExecOpener struct{}

func (ExecOpener) Open(_ context.Context, url string) error {
	name, args := openCommand(runtime.GOOS, url)
	// Not tied to ctx: the handler must outlive the run that opened it.
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", redactDataURI(url), err)
	}
	// Openers return immediately; reap them in the background.
	go func() {
		if err := cmd.Wait(); err != nil {
			appLog.Warn("url opener exited with error", "cmd", name, "err", err)
		}
	}()
	return nil
}

func openCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

// redactDataURI keeps inline calendar payloads out of error messages.
func redactDataURI(u string) string {
	const max = 48
	if len(u) <= max {
		return u
	}
	return u[:max] + "..."
}
