package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	DefaultPortalURL   = "https://uspace.univie.ac.at/web/studium/anmeldeuebersicht"
	DefaultAPIURL      = "https://uspace.univie.ac.at/web/studium/anmeldeuebersicht?p_p_id=asstudierendeanmeldeuebersichtportlet_WAR_asstudierendeanmeldeuebersichtportlet&p_p_lifecycle=2&p_p_state=normal&p_p_mode=view&p_p_resource_id=_generic_request_&p_p_cacheability=cacheLevelPage"
	DefaultProfileURL  = "https://uspace.univie.ac.at/web/studium/home?p_p_id=dashboardprofileportlet_WAR_dashboardprofileportlet&p_p_lifecycle=2&p_p_state=normal&p_p_mode=view&p_p_resource_id=_generic_request_&p_p_cacheability=cacheLevelPage"
	DefaultFeedBaseURL = "https://m2-ufind.univie.ac.at/courses"
	DefaultListen      = "127.0.0.1:8765"

	defaultFallbackPause = 500 * time.Millisecond
	defaultHTTPTimeout   = 30 * time.Second
	defaultLoginTimeout  = 5 * time.Minute
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the hand-off server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// PortalURL is the page opened for the interactive login. Cookies of its
	// host are captured into the session.
	PortalURL string `yaml:"portal_url" json:"portal_url"`
	// APIURL is the generic-request endpoint of the registration overview portlet.
	APIURL string `yaml:"api_url" json:"api_url"`
	// ProfileURL is the generic-request endpoint of the dashboard profile portlet.
	ProfileURL string `yaml:"profile_url" json:"profile_url"`
	// FeedBaseURL is the prefix of the per-course iCal feeds:
	// <FeedBaseURL>/<courseId>/<semester>/1/ww.ics
	FeedBaseURL string `yaml:"feed_base_url" json:"feed_base_url"`

	// StateFile is the JSON document backing the local state store.
	StateFile string `yaml:"state_file" json:"state_file"`
	// OutputDir receives downloaded calendars and archives.
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	// CacheDir enables the conditional-GET feed cache when non-empty.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Listen is the address of the hand-off server.
	Listen string `yaml:"listen" json:"listen"`
	// HandoffURL is the externally reachable base URL of the hand-off server.
	// Derived from Listen when empty.
	HandoffURL string `yaml:"handoff_url" json:"handoff_url"`
	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// Extractor selects the event extractor: "regex" (default) or "structured".
	Extractor string `yaml:"extractor" json:"extractor"`

	// FallbackPause separates per-file downloads when archiving fails.
	FallbackPause time.Duration `yaml:"fallback_pause" json:"fallback_pause"`
	// HTTPTimeout bounds every portal and feed request.
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout"`
	// LoginTimeout bounds the interactive browser login.
	LoginTimeout time.Duration `yaml:"login_timeout" json:"login_timeout"`

	// Refresh is a cron expression for the scheduled merged export done by
	// `serve`. Empty disables the schedule.
	Refresh string `yaml:"refresh" json:"refresh"`
	// Semester is the default semester token (e.g. "2024W").
	Semester string `yaml:"semester" json:"semester"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		PortalURL:     DefaultPortalURL,
		APIURL:        DefaultAPIURL,
		ProfileURL:    DefaultProfileURL,
		FeedBaseURL:   DefaultFeedBaseURL,
		StateFile:     defaultStateFile(),
		OutputDir:     ".",
		Listen:        DefaultListen,
		Extractor:     "regex",
		FallbackPause: defaultFallbackPause,
		HTTPTimeout:   defaultHTTPTimeout,
		LoginTimeout:  defaultLoginTimeout,
		LogLevel:      "info",
	}
	c.Normalize()
	return c
}

// DefaultPath is the config location used when --config is not given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "uspacecal.yaml"
	}
	return filepath.Join(dir, "uspacecal", "config.yaml")
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "uspacecal-state.json"
	}
	return filepath.Join(dir, "uspacecal", "state.json")
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.PortalURL == "" {
		c.PortalURL = DefaultPortalURL
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.ProfileURL == "" {
		c.ProfileURL = DefaultProfileURL
	}
	if c.FeedBaseURL == "" {
		c.FeedBaseURL = DefaultFeedBaseURL
	}
	if c.StateFile == "" {
		c.StateFile = defaultStateFile()
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.HandoffURL == "" {
		c.HandoffURL = "http://" + c.Listen
	}

	switch c.Extractor {
	case "regex", "structured":
		// ok
	default:
		// Unknown value; the regex extractor handles every feed the portal serves.
		c.Extractor = "regex"
	}

	if c.FallbackPause <= 0 {
		c.FallbackPause = defaultFallbackPause
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = defaultLoginTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return WriteFileAtomic(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic writes data to path via a temp file in the same directory
// followed by a rename. The parent directory is created with 0700.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".uspacecal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
