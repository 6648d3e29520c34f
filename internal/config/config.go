// Package config loads heap configuration files.
//
// Files are YAML or JSON with the same keys:
//
//	max_heap: 1GB
//	initial_commit: 32MB
//	initial_pages: 1
//	interval: 2s
//	root_buffer_words: 256
//	verify_heap: false
//	stack_words: 4096
//	log:
//	  enabled: true
//	  level: info
//	  json: false
//
// Sizes accept byte-size suffixes. GCKIT_MAX_HEAP and GCKIT_INTERVAL
// override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/gckit/gc/heap"
	"github.com/joshuapare/gckit/internal/logger"
)

// Environment variables that override file settings.
const (
	EnvMaxHeap  = "GCKIT_MAX_HEAP"
	EnvInterval = "GCKIT_INTERVAL"
)

var (
	// ErrFormat indicates a file extension that is neither YAML nor JSON.
	ErrFormat = errors.New("config: unknown file format")

	// ErrInvalid indicates a value that cannot be parsed.
	ErrInvalid = errors.New("config: invalid value")
)

// Log holds logging settings.
type Log struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	JSON    bool   `yaml:"json"`
}

// Config is the file representation of heap.Options. Empty fields keep
// their defaults.
type Config struct {
	MaxHeap         string `yaml:"max_heap"`
	InitialCommit   string `yaml:"initial_commit"`
	InitialPages    int    `yaml:"initial_pages"`
	Interval        string `yaml:"interval"`
	RootBufferWords int    `yaml:"root_buffer_words"`
	VerifyHeap      bool   `yaml:"verify_heap"`
	StackWords      int    `yaml:"stack_words"`
	Log             Log    `yaml:"log"`
}

// Default returns the configuration matching heap.DefaultOptions.
func Default() Config {
	opts := heap.DefaultOptions()
	return Config{
		MaxHeap:         bytesize.New(float64(opts.Region.MaxBytes)).String(),
		InitialCommit:   bytesize.New(float64(opts.Region.InitialCommit)).String(),
		InitialPages:    opts.Alloc.InitialPages,
		Interval:        opts.Collector.Interval.String(),
		RootBufferWords: opts.Collector.RootBufferWords,
		StackWords:      opts.StackWords,
		Log:             Log{Level: "info"},
	}
}

// Load reads path, chosen by extension, then applies environment overrides.
// An empty path yields the defaults with overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = cfg.parseYAML(data)
		case ".json":
			err = cfg.parseJSON(data)
		default:
			err = fmt.Errorf("%w: %s", ErrFormat, path)
		}
		if err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// Parse decodes data in the given format ("yaml" or "json") over the defaults.
func Parse(data []byte, format string) (Config, error) {
	cfg := Default()
	var err error
	switch format {
	case "yaml", "yml":
		err = cfg.parseYAML(data)
	case "json":
		err = cfg.parseJSON(data)
	default:
		err = fmt.Errorf("%w: %q", ErrFormat, format)
	}
	return cfg, err
}

func (c *Config) parseYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: yaml: %w", err)
	}
	return nil
}

func (c *Config) parseJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("config: invalid json: %q", data)
	}

	doc := gjson.ParseBytes(data)
	setString := func(key string, dst *string) {
		if v := doc.Get(key); v.Exists() {
			*dst = v.String()
		}
	}
	setInt := func(key string, dst *int) {
		if v := doc.Get(key); v.Exists() {
			*dst = int(v.Int())
		}
	}
	setBool := func(key string, dst *bool) {
		if v := doc.Get(key); v.Exists() {
			*dst = v.Bool()
		}
	}

	setString("max_heap", &c.MaxHeap)
	setString("initial_commit", &c.InitialCommit)
	setInt("initial_pages", &c.InitialPages)
	setString("interval", &c.Interval)
	setInt("root_buffer_words", &c.RootBufferWords)
	setBool("verify_heap", &c.VerifyHeap)
	setInt("stack_words", &c.StackWords)
	setBool("log.enabled", &c.Log.Enabled)
	setString("log.level", &c.Log.Level)
	setBool("log.json", &c.Log.JSON)
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvMaxHeap); ok && v != "" {
		c.MaxHeap = v
	}
	if v, ok := lookup(EnvInterval); ok && v != "" {
		c.Interval = v
	}
}

// HeapOptions converts the configuration to heap options.
func (c Config) HeapOptions() (heap.Options, error) {
	opts := heap.DefaultOptions()

	if c.MaxHeap != "" {
		n, err := parseSize(c.MaxHeap)
		if err != nil {
			return opts, fmt.Errorf("max_heap: %w", err)
		}
		opts.Region.MaxBytes = n
	}
	if c.InitialCommit != "" {
		n, err := parseSize(c.InitialCommit)
		if err != nil {
			return opts, fmt.Errorf("initial_commit: %w", err)
		}
		opts.Region.InitialCommit = n
	}
	if c.Interval != "" {
		d, err := parseInterval(c.Interval)
		if err != nil {
			return opts, fmt.Errorf("interval: %w", err)
		}
		opts.Collector.Interval = d
	}
	if c.InitialPages > 0 {
		opts.Alloc.InitialPages = c.InitialPages
	}
	if c.RootBufferWords > 0 {
		opts.Collector.RootBufferWords = c.RootBufferWords
	}
	if c.StackWords > 0 {
		opts.StackWords = c.StackWords
	}
	opts.Collector.VerifyHeap = c.VerifyHeap
	return opts, nil
}

// LogOptions returns logger options writing to stderr.
func (c Config) LogOptions() logger.Options {
	return logger.Options{
		Enabled: c.Log.Enabled,
		Level:   logger.ParseLevel(c.Log.Level),
		JSON:    c.Log.JSON,
		Output:  os.Stderr,
	}
}

func parseSize(s string) (int, error) {
	b, err := bytesize.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q: %w", ErrInvalid, s, err)
	}
	if b == 0 || uint64(b) > uint64(^uint(0)>>1) {
		return 0, fmt.Errorf("%w: size %q out of range", ErrInvalid, s)
	}
	return int(b), nil
}

// parseInterval accepts a duration, or "off" to disable the timer.
func parseInterval(s string) (time.Duration, error) {
	if s == "off" {
		return -1, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: interval %q", ErrInvalid, s)
	}
	return d, nil
}
