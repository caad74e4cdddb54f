package deliver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"uspacecal/internal/config"
	appLog "uspacecal/internal/log"
)

// Prompter asks the user where to save a file. It returns the chosen path;
// an empty answer keeps the suggestion.
type Prompter interface {
	SavePath(ctx context.Context, suggested string) (string, error)
}

// ErrSaveDeclined is returned when the user declines the save-as prompt.
var ErrSaveDeclined = errors.New("save declined")

// FileDownloader writes downloads below Dir. When a download asks for
// save-as and a Prompter is set, the user confirms the target path first.
type FileDownloader struct {
	Dir      string
	Prompter Prompter
}

func (f *FileDownloader) Download(ctx context.Context, d Download) error {
	if d.Filename == "" {
		return errors.New("download: empty filename")
	}
	target := filepath.Join(f.Dir, filepath.Base(d.Filename))

	if d.SaveAs && f.Prompter != nil {
		chosen, err := f.Prompter.SavePath(ctx, target)
		if err != nil {
			return err
		}
		if chosen != "" {
			target = chosen
		}
	}

	if err := config.WriteFileAtomic(target, d.Content, 0o644); err != nil {
		return fmt.Errorf("download %s: %w", d.Filename, err)
	}
	appLog.Info("file saved", "path", target, "media_type", d.MediaType, "bytes", len(d.Content))
	return nil
}

// LinePrompter reads the answer from In after printing a prompt to Out.
// "n" or "no" declines the download.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer

	// r is kept across prompts so buffered input is not lost.
	r *bufio.Reader
}

// NewStdPrompter prompts on the terminal.
func NewStdPrompter() *LinePrompter {
	return &LinePrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *LinePrompter) SavePath(_ context.Context, suggested string) (string, error) {
	fmt.Fprintf(p.Out, "Save as [%s] (n to skip): ", suggested)
	if p.r == nil {
		p.r = bufio.NewReader(p.In)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	answer := strings.TrimSpace(line)
	switch strings.ToLower(answer) {
	case "n", "no":
		return "", ErrSaveDeclined
	case "":
		return suggested, nil
	}
	// A directory answer keeps the suggested file name.
	if info, err := os.Stat(answer); err == nil && info.IsDir() {
		return filepath.Join(answer, filepath.Base(suggested)), nil
	}
	return answer, nil
}
