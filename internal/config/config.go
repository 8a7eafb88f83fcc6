package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	appLog "mealendar/internal/log"
	"mealendar/internal/model"
)

// NOTE: YAML is the canonical format. A path ending in .toml is decoded
// with BurntSushi/toml instead; Save always writes the format implied by
// the path extension.

// ICSConfig describes a single ICS subscription source shared by every
// dashboard visitor.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" toml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" toml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" toml:"name" json:"name"`
}

// CalDAVConfig describes a CalDAV calendar collection.
type CalDAVConfig struct {
	ID       string `yaml:"id" toml:"id" json:"id"`
	Endpoint string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	// Calendar is the collection path, e.g. "/dav/calendars/user/home/".
	Calendar string `yaml:"calendar" toml:"calendar" json:"calendar"`
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"-"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
// Password may be plain text or an argon2id hash produced by the
// hash-password command.
type BasicAuthConfig struct {
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"-"`
}

// MapConfig controls the map panel.
type MapConfig struct {
	CenterLat        float64 `yaml:"center_lat" toml:"center_lat" json:"center_lat"`
	CenterLng        float64 `yaml:"center_lng" toml:"center_lng" json:"center_lng"`
	Zoom             int     `yaml:"zoom" toml:"zoom" json:"zoom"`
	SingleMarkerZoom int     `yaml:"single_marker_zoom" toml:"single_marker_zoom" json:"single_marker_zoom"`
	// Width/Height are the viewport size, in pixels, used for fit-bounds.
	Width  int `yaml:"width" toml:"width" json:"width"`
	Height int `yaml:"height" toml:"height" json:"height"`
	// APIKey is handed to the browser to load the map widget.
	APIKey string `yaml:"api_key" toml:"api_key" json:"-"`
}

// GoogleConfig holds the OAuth client and Calendar API settings.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" toml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret" json:"-"`
	RedirectURL  string `yaml:"redirect_url" toml:"redirect_url" json:"redirect_url"`
	CalendarID   string `yaml:"calendar_id" toml:"calendar_id" json:"calendar_id"`
	MaxResults   int    `yaml:"max_results" toml:"max_results" json:"max_results"`
	// APIEndpoint overrides the Calendar API base URL (tests, proxies).
	APIEndpoint string `yaml:"api_endpoint,omitempty" toml:"api_endpoint" json:"api_endpoint,omitempty"`
}

// ChatConfig configures the assistant's language model.
type ChatConfig struct {
	APIKey   string `yaml:"api_key" toml:"api_key" json:"-"`
	Model    string `yaml:"model" toml:"model" json:"model"`
	Endpoint string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
}

// GeocoderConfig configures location lookups for events without
// coordinates.
type GeocoderConfig struct {
	Enabled        bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Endpoint       string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	UserAgent      string `yaml:"user_agent" toml:"user_agent" json:"user_agent"`
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" toml:"listen" json:"listen"`

	// Timezone is the IANA timezone used when the calendar provider does not
	// report one (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" toml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	// FrontendOrigin is allowed by CORS and used as the post-login redirect.
	FrontendOrigin string `yaml:"frontend_origin" toml:"frontend_origin" json:"frontend_origin"`

	// DataDir holds the SQLite database, ICS cache and preview.png.
	DataDir string `yaml:"data_dir" toml:"data_dir" json:"data_dir"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for warming shared calendars and re-capturing the preview.
	RefreshCron string `yaml:"refresh" toml:"refresh" json:"refresh"`

	// SessionSecret signs session cookies.
	SessionSecret string `yaml:"session_secret" toml:"session_secret" json:"-"`

	Map      MapConfig      `yaml:"map" toml:"map" json:"map"`
	Google   GoogleConfig   `yaml:"google" toml:"google" json:"google"`
	Chat     ChatConfig     `yaml:"chat" toml:"chat" json:"chat"`
	Geocoder GeocoderConfig `yaml:"geocoder" toml:"geocoder" json:"geocoder"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" toml:"ics" json:"ics"`

	// CalDAV is the list of CalDAV collections.
	CalDAV []CalDAVConfig `yaml:"caldav" toml:"caldav" json:"caldav"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health and the OAuth callback.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" toml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen         = "127.0.0.1:8000"
	defaultTimezone       = "Asia/Seoul"
	defaultFrontendOrigin = "http://localhost:8000"
	defaultDataDir        = "/var/lib/mealendar"
	defaultRefreshCron    = "*/15 * * * *"
	defaultChatModel      = "gemini-1.5-flash-latest"
	defaultChatEndpoint   = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeocoderURL    = "https://nominatim.openstreetmap.org/search"
	defaultUserAgent      = "mealendar/0.1"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Geocoder: GeocoderConfig{Enabled: true},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.FrontendOrigin == "" {
		c.FrontendOrigin = defaultFrontendOrigin
	}
	c.FrontendOrigin = strings.TrimRight(c.FrontendOrigin, "/")
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}

	// A zero centre means "unset"; nobody schedules lunch at Null Island.
	if c.Map.CenterLat == 0 && c.Map.CenterLng == 0 {
		c.Map.CenterLat, c.Map.CenterLng = 37.5665, 126.978
	}
	if c.Map.Zoom <= 0 {
		c.Map.Zoom = 12
	}
	if c.Map.SingleMarkerZoom <= 0 {
		c.Map.SingleMarkerZoom = 15
	}
	if c.Map.Width <= 0 {
		c.Map.Width = 960
	}
	if c.Map.Height <= 0 {
		c.Map.Height = 720
	}

	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Google.MaxResults <= 0 {
		c.Google.MaxResults = 50
	}
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = "http://" + c.Listen + "/api/auth/google/callback"
	}

	if c.Chat.Model == "" {
		c.Chat.Model = defaultChatModel
	}
	if c.Chat.Endpoint == "" {
		c.Chat.Endpoint = defaultChatEndpoint
	}

	if c.Geocoder.Endpoint == "" {
		c.Geocoder.Endpoint = defaultGeocoderURL
	}
	if c.Geocoder.UserAgent == "" {
		c.Geocoder.UserAgent = defaultUserAgent
	}
	if c.Geocoder.TimeoutSeconds <= 0 {
		c.Geocoder.TimeoutSeconds = 10
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.CalDAV == nil {
		c.CalDAV = []CalDAVConfig{}
	}
}

// ApplyEnv overrides secrets from the environment. The variable names
// match the ones the deployment .env files already use.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	set(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	set(&c.Google.RedirectURL, "REDIRECT_URI")
	set(&c.Chat.APIKey, "GEMINI_API_KEY")
	set(&c.SessionSecret, "SECRET_KEY")
	set(&c.Map.APIKey, "MAPS_API_KEY")
}

// Validate reports configuration errors that would make the server
// misbehave at request time.
func (c *Config) Validate() error {
	var errs []error
	if c.Map.CenterLat < -90 || c.Map.CenterLat > 90 || c.Map.CenterLng < -180 || c.Map.CenterLng > 180 {
		errs = append(errs, fmt.Errorf("map center out of range: %v,%v", c.Map.CenterLat, c.Map.CenterLng))
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("ics[%d]: url is empty", i))
		}
	}
	for i, src := range c.CalDAV {
		if src.Endpoint == "" || src.Calendar == "" {
			errs = append(errs, fmt.Errorf("caldav[%d]: endpoint and calendar are required", i))
		}
	}
	if (c.Google.ClientID == "") != (c.Google.ClientSecret == "") {
		errs = append(errs, errors.New("google: client_id and client_secret must be set together"))
	}
	return errors.Join(errs...)
}

// GoogleEnabled reports whether the OAuth login flow can be offered.
func (c *Config) GoogleEnabled() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// Load loads configuration from the given YAML (or TOML) path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - decode into Config and normalize defaults
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

	cfg := Config{Geocoder: GeocoderConfig{Enabled: true}}
	if isTOML(path) {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
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

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := encode(path, cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".mealendar-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// DatabasePath is the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "mealendar.db")
}

// ICSCacheDir is the ICS conditional-GET cache inside DataDir.
func (c *Config) ICSCacheDir() string {
	return filepath.Join(c.DataDir, "ics-cache")
}

// PreviewPath is where the dashboard screenshot is written.
func (c *Config) PreviewPath() string {
	return filepath.Join(c.DataDir, "preview.png")
}

// Location resolves Timezone, falling back to time.Local when it is empty
// or unknown.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", c.Timezone)
		return time.Local
	}
	return loc
}

// MapCenter is the configured default map centre.
func (c *Config) MapCenter() model.LatLng {
	return model.LatLng{Lat: c.Map.CenterLat, Lng: c.Map.CenterLng}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func encode(path string, cfg *Config) ([]byte, error) {
	if isTOML(path) {
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
			return nil, err
		}
		return []byte(b.String()), nil
	}
	return yaml.Marshal(cfg)
}
