// Package store is the local key-value state shared between the CLI, the
// session provider and the hand-off pages. The whole state is one JSON
// document that is rewritten on every change.
package store

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"uspacecal/internal/config"
)

// Keys used across the program.
const (
	KeyAuthenticated    = "isAuthenticated"
	KeyUserInfo         = "userInfo"
	KeySemesters        = "availableSemesters"
	KeyCookies          = "cookies"
	KeyLanguage         = "uspace_language"
	KeyTheme            = "uspace_theme"
	KeyWebcalDataURI    = "webcalDataUri"
	KeyDownloadURL      = "downloadUrl"
	KeyCalendarFilename = "calendarFilename"
	KeyWebcalCourses    = "webcalCourses"
	KeyWebcalSemester   = "webcalSemester"
)

// Store is the interface the rest of the program depends on.
type Store interface {
	Get(key string) gjson.Result
	Set(key string, value any) error
	SetMany(values map[string]any) error
	Remove(keys ...string) error
	Clear() error
}

// FileStore keeps the document in memory and persists it to path after
// every write. An empty path keeps the store memory-only.
type FileStore struct {
	mu   sync.RWMutex
	path string
	doc  string
}

// Open reads path if it exists. A missing file starts an empty document.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, doc: "{}"}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("store: state file is not valid JSON: " + path)
	}
	s.doc = string(data)
	return s, nil
}

// NewMemory returns a store that is never persisted.
func NewMemory() *FileStore {
	s, _ := Open("")
	return s
}

func (s *FileStore) Get(key string) gjson.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return gjson.Get(s.doc, escapeKey(key))
}

func (s *FileStore) Set(key string, value any) error {
	return s.SetMany(map[string]any{key: value})
}

// SetMany applies all values and persists once.
func (s *FileStore) SetMany(values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.doc
	for k, v := range values {
		next, err := sjson.Set(doc, escapeKey(k), v)
		if err != nil {
			return err
		}
		doc = next
	}
	return s.commit(doc)
}

func (s *FileStore) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.doc
	for _, k := range keys {
		next, err := sjson.Delete(doc, escapeKey(k))
		if err != nil {
			return err
		}
		doc = next
	}
	return s.commit(doc)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit("{}")
}

// commit must be called with mu held.
func (s *FileStore) commit(doc string) error {
	if s.path != "" {
		if err := config.WriteFileAtomic(s.path, []byte(doc), 0o600); err != nil {
			return err
		}
	}
	s.doc = doc
	return nil
}

// escapeKey keeps top-level keys flat: gjson/sjson treat '.' and wildcards
// as path syntax.
func escapeKey(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(k)
}

// InitDefaults writes the UI preference keys when they are not set yet.
// lang is usually the value of $LANG.
func InitDefaults(s Store, lang string) error {
	values := map[string]any{}
	if !s.Get(KeyLanguage).Exists() {
		language := "en"
		if strings.HasPrefix(strings.ToLower(lang), "de") {
			language = "de"
		}
		values[KeyLanguage] = language
	}
	if !s.Get(KeyTheme).Exists() {
		values[KeyTheme] = "system"
	}
	if len(values) == 0 {
		return nil
	}
	return s.SetMany(values)
}
