// Package config loads and validates the linkding-sync settings file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidConfig marks configuration errors. They are fatal to a run; no
// partial sync is attempted on top of a broken configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

const schemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["baseUrl", "token", "bookmarksFile"],
	"additionalProperties": false,
	"properties": {
		"baseUrl":       {"type": "string", "minLength": 1},
		"token":         {"type": "string", "minLength": 1},
		"syncTag":       {"type": "string", "minLength": 1, "pattern": "^[^/]+$"},
		"bookmarksFile": {"type": "string", "minLength": 1},
		"rootFolder":    {"type": "string"},
		"mappingDsn":    {"type": "string", "minLength": 1},
		"interval":      {"type": "string"},
		"debounce":      {"type": "string"},
		"writeDelay":    {"type": "string"}
	}
}`

// Duration is a time.Duration that marshals as a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the settings file contents after validation and defaulting.
type Config struct {
	BaseURL       string   `json:"baseUrl"`
	Token         string   `json:"token"`
	SyncTag       string   `json:"syncTag"`
	BookmarksFile string   `json:"bookmarksFile"`
	RootFolder    string   `json:"rootFolder"`
	MappingDSN    string   `json:"mappingDsn"`
	Interval      Duration `json:"interval"`
	Debounce      Duration `json:"debounce"`
	WriteDelay    Duration `json:"writeDelay"`
}

const (
	DefaultSyncTag  = "linkding"
	DefaultInterval = 5 * time.Minute
	DefaultDebounce = 10 * time.Second
)

// Load reads, schema-validates and defaults the settings file at path.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	defer file.Close()

	instance, err := jsonschema.UnmarshalJSON(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid JSON: %v", ErrInvalidConfig, path, err)
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	data, err := json.Marshal(instance)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", schemaDoc); err != nil {
		return nil, err
	}
	return compiler.Compile("config.schema.json")
}

func (c *Config) applyDefaults() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Token = strings.TrimSpace(c.Token)
	if strings.TrimSpace(c.SyncTag) == "" {
		c.SyncTag = DefaultSyncTag
	}
	if strings.TrimSpace(c.MappingDSN) == "" {
		c.MappingDSN = c.BookmarksFile + ".mapping.json"
	}
	if c.Interval <= 0 {
		c.Interval = Duration(DefaultInterval)
	}
	if c.Debounce <= 0 {
		c.Debounce = Duration(DefaultDebounce)
	}
	c.RootFolder = strings.Trim(strings.TrimSpace(c.RootFolder), "/")
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: baseUrl is required", ErrInvalidConfig)
	}
	if c.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.BookmarksFile) == "" {
		return fmt.Errorf("%w: bookmarksFile is required", ErrInvalidConfig)
	}
	if strings.Contains(c.SyncTag, "/") {
		return fmt.Errorf("%w: syncTag must not contain '/'", ErrInvalidConfig)
	}
	return nil
}
