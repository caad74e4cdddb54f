package deliver

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"uspacecal/internal/model"
)

// ZipArchiver builds deflate-compressed zip archives in memory. No entries
// still yields a valid, empty archive.
type ZipArchiver struct {
	// Modified is stamped on every entry; zero means now.
	Modified time.Time
}

func (z ZipArchiver) Archive(entries []model.NamedContent) ([]byte, error) {
	mod := z.Modified
	if mod.IsZero() {
		mod = time.Now()
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		name := uniqueName(e.Name, seen)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: mod,
		})
		if err != nil {
			return nil, fmt.Errorf("archive entry %s: %w", name, err)
		}
		if _, err := w.Write(e.Content); err != nil {
			return nil, fmt.Errorf("archive entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// uniqueName suffixes repeated names (two courses with the same title)
// so no entry shadows another inside the archive.
func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
