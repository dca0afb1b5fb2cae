// Package config loads flipview.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/recera/flipview/internal/cache"
	"github.com/recera/flipview/pkg/document"
	"github.com/recera/flipview/pkg/flipbook"
)

// FileName is the config file looked up in a project directory
const FileName = "flipview.yaml"

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid config")

// Editions accepted for a textbook
var Editions = []string{"PB3", "MOI", "CU"}

// Config represents flipview.yaml
type Config struct {
	Server *ServerConfig `yaml:"server,omitempty"`
	Viewer *ViewerConfig `yaml:"viewer,omitempty"`
	Render *RenderConfig `yaml:"render,omitempty"`
	Cache  *CacheConfig  `yaml:"cache,omitempty"`
	Log    *LogConfig    `yaml:"log,omitempty"`
	Shelf  *ShelfConfig  `yaml:"shelf,omitempty"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string           `yaml:"host,omitempty"`
	Port           int              `yaml:"port,omitempty"`
	AllowedOrigins []string         `yaml:"allowed_origins,omitempty"`
	RateLimit      *RateLimitConfig `yaml:"rate_limit,omitempty"`
	// SessionTTL keeps a disconnected viewer resumable
	SessionTTL time.Duration `yaml:"session_ttl,omitempty"`
}

// RateLimitConfig throttles image routes per client IP
type RateLimitConfig struct {
	RPS    float64 `yaml:"rps,omitempty"`
	Burst  int     `yaml:"burst,omitempty"`
	MaxIPs int     `yaml:"max_ips,omitempty"`
}

// ViewerConfig contains viewport controller configuration
type ViewerConfig struct {
	BasePageWidth float64 `yaml:"base_page_width,omitempty"`
	PageAspect    float64 `yaml:"page_aspect,omitempty"`
	ToolbarReveal float64 `yaml:"toolbar_reveal,omitempty"`
	// WheelStep is the pixel delta of one terminal wheel notch
	WheelStep float64 `yaml:"wheel_step,omitempty"`
}

// RenderConfig contains page rendering configuration
type RenderConfig struct {
	PDFInfo  string `yaml:"pdfinfo,omitempty"`
	PDFToPPM string `yaml:"pdftoppm,omitempty"`
	WorkDir  string `yaml:"work_dir,omitempty"`
	MaxWidth int    `yaml:"max_width,omitempty"`
	// Bleed is the opacity of the next page showing through a sheet face.
	// Negative turns it off.
	Bleed float64 `yaml:"bleed,omitempty"`
}

// CacheConfig contains render cache configuration
type CacheConfig struct {
	Dir      string        `yaml:"dir,omitempty"`
	MaxSize  int64         `yaml:"max_size,omitempty"`
	MaxAge   time.Duration `yaml:"max_age,omitempty"`
	Strategy string        `yaml:"strategy,omitempty"`
}

// LogConfig selects the logger: "debug", "dev" or "prod"
type LogConfig struct {
	Mode string `yaml:"mode,omitempty"`
}

// ShelfConfig lists the textbooks served
type ShelfConfig struct {
	Books []Book `yaml:"books"`
}

// Book is one textbook on the shelf
type Book struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description"`
	Edition     string `yaml:"edition" json:"edition"`
	Year        int    `yaml:"year" json:"year"`
	// Path is a PDF file or a directory of page images, relative to the
	// config file
	Path  string `yaml:"path" json:"-"`
	Cover string `yaml:"cover,omitempty" json:"-"`
}

// Load loads configuration from path. A directory is searched for
// flipview.yaml; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	configPath := path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		configPath = filepath.Join(path, FileName)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	applyDefaults(&config)
	config.resolvePaths(filepath.Dir(configPath))

	return &config, nil
}

// Save writes configuration to path, or to flipview.yaml inside it when
// path is a directory
func Save(config *Config, path string) error {
	configPath := path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		configPath = filepath.Join(path, FileName)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cacheDefaults := cache.DefaultConfig()
	return &Config{
		Server: &ServerConfig{
			Host: "localhost",
			Port: 8080,
			RateLimit: &RateLimitConfig{
				RPS:    20,
				Burst:  40,
				MaxIPs: 1024,
			},
			SessionTTL: 5 * time.Minute,
		},
		Viewer: &ViewerConfig{
			BasePageWidth: 600,
			PageAspect:    1.414,
			ToolbarReveal: 100,
			WheelStep:     40,
		},
		Render: &RenderConfig{
			PDFInfo:  "pdfinfo",
			PDFToPPM: "pdftoppm",
			MaxWidth: 2400,
			Bleed:    document.DefaultBleed,
		},
		Cache: &CacheConfig{
			Dir:      cacheDefaults.Dir,
			MaxSize:  cacheDefaults.MaxSize,
			MaxAge:   cacheDefaults.MaxAge,
			Strategy: cacheDefaults.Strategy.String(),
		},
		Log:   &LogConfig{Mode: "dev"},
		Shelf: &ShelfConfig{},
	}
}

// applyDefaults applies default values to missing configuration
func applyDefaults(config *Config) {
	defaults := DefaultConfig()

	if config.Server == nil {
		config.Server = defaults.Server
	} else {
		if config.Server.Host == "" {
			config.Server.Host = defaults.Server.Host
		}
		if config.Server.Port == 0 {
			config.Server.Port = defaults.Server.Port
		}
		if config.Server.SessionTTL == 0 {
			config.Server.SessionTTL = defaults.Server.SessionTTL
		}
		if config.Server.RateLimit == nil {
			config.Server.RateLimit = defaults.Server.RateLimit
		} else {
			rl := config.Server.RateLimit
			if rl.RPS == 0 {
				rl.RPS = defaults.Server.RateLimit.RPS
			}
			if rl.Burst == 0 {
				rl.Burst = defaults.Server.RateLimit.Burst
			}
			if rl.MaxIPs == 0 {
				rl.MaxIPs = defaults.Server.RateLimit.MaxIPs
			}
		}
	}

	if config.Viewer == nil {
		config.Viewer = defaults.Viewer
	} else {
		if config.Viewer.BasePageWidth == 0 {
			config.Viewer.BasePageWidth = defaults.Viewer.BasePageWidth
		}
		if config.Viewer.PageAspect == 0 {
			config.Viewer.PageAspect = defaults.Viewer.PageAspect
		}
		if config.Viewer.ToolbarReveal == 0 {
			config.Viewer.ToolbarReveal = defaults.Viewer.ToolbarReveal
		}
		if config.Viewer.WheelStep == 0 {
			config.Viewer.WheelStep = defaults.Viewer.WheelStep
		}
	}

	if config.Render == nil {
		config.Render = defaults.Render
	} else {
		if config.Render.PDFInfo == "" {
			config.Render.PDFInfo = defaults.Render.PDFInfo
		}
		if config.Render.PDFToPPM == "" {
			config.Render.PDFToPPM = defaults.Render.PDFToPPM
		}
		if config.Render.MaxWidth == 0 {
			config.Render.MaxWidth = defaults.Render.MaxWidth
		}
		if config.Render.Bleed == 0 {
			config.Render.Bleed = defaults.Render.Bleed
		}
	}

	if config.Cache == nil {
		config.Cache = defaults.Cache
	} else {
		if config.Cache.Dir == "" {
			config.Cache.Dir = defaults.Cache.Dir
		}
		if config.Cache.MaxSize == 0 {
			config.Cache.MaxSize = defaults.Cache.MaxSize
		}
		if config.Cache.MaxAge == 0 {
			config.Cache.MaxAge = defaults.Cache.MaxAge
		}
		if config.Cache.Strategy == "" {
			config.Cache.Strategy = defaults.Cache.Strategy
		}
	}

	if config.Log == nil {
		config.Log = defaults.Log
	} else if config.Log.Mode == "" {
		config.Log.Mode = defaults.Log.Mode
	}

	if config.Shelf == nil {
		config.Shelf = defaults.Shelf
	}
}

// resolvePaths makes book and work paths relative to the config directory
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range c.Shelf.Books {
		c.Shelf.Books[i].Path = abs(c.Shelf.Books[i].Path)
		c.Shelf.Books[i].Cover = abs(c.Shelf.Books[i].Cover)
	}
	c.Render.WorkDir = abs(c.Render.WorkDir)
}

// Validate checks a loaded configuration. Every error wraps ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server != nil {
		if c.Server.Port < 0 || c.Server.Port > 65535 {
			fail("server.port %d out of range", c.Server.Port)
		}
		if rl := c.Server.RateLimit; rl != nil && (rl.RPS < 0 || rl.Burst < 0 || rl.MaxIPs < 0) {
			fail("server.rate_limit values must not be negative")
		}
	}
	if c.Viewer != nil {
		if c.Viewer.BasePageWidth < 0 || c.Viewer.PageAspect < 0 {
			fail("viewer page size must be positive")
		}
		if c.Viewer.WheelStep < 0 {
			fail("viewer.wheel_step must not be negative")
		}
	}
	if c.Render != nil && c.Render.MaxWidth < 0 {
		fail("render.max_width must not be negative")
	}
	if c.Render != nil && c.Render.Bleed > 1 {
		fail("render.bleed must be at most 1")
	}
	if c.Cache != nil {
		if _, err := cache.ParseStrategy(c.Cache.Strategy); err != nil {
			fail("cache.strategy: %v", err)
		}
	}

	if c.Shelf != nil {
		seen := make(map[string]bool)
		for i, b := range c.Shelf.Books {
			switch {
			case b.ID == "":
				fail("shelf.books[%d]: id required", i)
			case strings.Contains(b.ID, "/"):
				fail("shelf.books[%d]: id %q must not contain '/'", i, b.ID)
			case seen[b.ID]:
				fail("shelf.books[%d]: duplicate id %q", i, b.ID)
			}
			seen[b.ID] = true
			if strings.TrimSpace(b.Name) == "" {
				fail("book %q: name required", b.ID)
			}
			if b.Path == "" {
				fail("book %q: path required", b.ID)
			}
			if !validEdition(b.Edition) {
				fail("book %q: edition %q not one of %s", b.ID, b.Edition, strings.Join(Editions, ", "))
			}
			if b.Year < 2000 {
				fail("book %q: year %d before 2000", b.ID, b.Year)
			}
		}
	}
	return errors.Join(errs...)
}

func validEdition(e string) bool {
	for _, v := range Editions {
		if e == v {
			return true
		}
	}
	return false
}

// Book returns the shelf entry with the given id
func (c *Config) Book(id string) (Book, bool) {
	if c.Shelf == nil {
		return Book{}, false
	}
	for _, b := range c.Shelf.Books {
		if b.ID == id {
			return b, true
		}
	}
	return Book{}, false
}

// ViewerOptions converts the viewer section into controller options
func (c *Config) ViewerOptions() flipbook.Options {
	if c.Viewer == nil {
		return flipbook.Options{}
	}
	return flipbook.Options{
		BasePageWidth: c.Viewer.BasePageWidth,
		PageAspect:    c.Viewer.PageAspect,
		ToolbarReveal: c.Viewer.ToolbarReveal,
	}
}

// DocumentOptions converts the render section into source options
func (c *Config) DocumentOptions() document.Options {
	if c.Render == nil {
		return document.Options{}
	}
	return document.Options{
		PDFInfo:  c.Render.PDFInfo,
		PDFToPPM: c.Render.PDFToPPM,
		WorkDir:  c.Render.WorkDir,
	}
}

// SheetOptions returns spread rendering options for a book of numPages
func (c *Config) SheetOptions(numPages int) document.SheetOptions {
	opts := document.SheetOptions{NumPages: numPages}
	if c.Render != nil && c.Render.Bleed > 0 {
		opts.Bleed = c.Render.Bleed
	}
	return opts
}

// CacheSettings converts the cache section into cache settings
func (c *Config) CacheSettings() (cache.Config, error) {
	if c.Cache == nil {
		return cache.DefaultConfig(), nil
	}
	strategy, err := cache.ParseStrategy(c.Cache.Strategy)
	if err != nil {
		return cache.Config{}, err
	}
	return cache.Config{
		Dir:      c.Cache.Dir,
		MaxSize:  c.Cache.MaxSize,
		MaxAge:   c.Cache.MaxAge,
		Strategy: strategy,
	}, nil
}

// Addr is the server listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
