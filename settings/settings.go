// Copyright © 2024 The standard-ls authors

// Package settings models the "standard" workspace settings sent by the
// editor and the server-side defaults loaded from the config file.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/standard-ls/standard-ls/engine"
)

// Section is the configuration section the settings live under.
const Section = "standard"

// RunMode selects when documents are validated.
type RunMode string

const (
	RunOnType RunMode = "onType"
	RunOnSave RunMode = "onSave"
)

// DirectoryMode selects how a working directory is chosen automatically.
type DirectoryMode string

const (
	// ModeAuto uses the directory of the nearest package.json.
	ModeAuto DirectoryMode = "auto"
	// ModeLocation uses the workspace folder.
	ModeLocation DirectoryMode = "location"
)

// WorkingDirectory is one entry of the workingDirectories setting. In JSON
// it is either a directory string or an object.
type WorkingDirectory struct {
	Directory        string        `json:"directory,omitempty"`
	ChangeProcessCWD bool          `json:"changeProcessCWD,omitempty"`
	Mode             DirectoryMode `json:"mode,omitempty"`
}

// UnmarshalJSON accepts "dir", {"directory": "dir", "changeProcessCWD":
// true} and {"mode": "auto"}.
func (w *WorkingDirectory) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var dir string
		if err := json.Unmarshal(data, &dir); err != nil {
			return err
		}
		*w = WorkingDirectory{Directory: dir}
		return nil
	}
	type plain WorkingDirectory
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	switch p.Mode {
	case "", ModeAuto, ModeLocation:
	default:
		return fmt.Errorf("working directory: unknown mode %q", p.Mode)
	}
	*w = WorkingDirectory(p)
	return nil
}

// Trace holds the protocol tracing level.
type Trace struct {
	Server string `json:"server,omitempty"`
}

// Settings are the effective settings for a workspace folder.
type Settings struct {
	Enable                bool               `json:"enable"`
	EnableGlobally        bool               `json:"enableGlobally"`
	Engine                engine.Engine      `json:"engine"`
	UsePackageJSON        bool               `json:"usePackageJson"`
	AutoFixOnSave         bool               `json:"autoFixOnSave"`
	Run                   RunMode            `json:"run"`
	NodePath              string             `json:"nodePath,omitempty"`
	Runtime               string             `json:"runtime,omitempty"`
	Options               map[string]any     `json:"options,omitempty"`
	Validate              []string           `json:"validate"`
	WorkingDirectories    []WorkingDirectory `json:"workingDirectories,omitempty"`
	TreatErrorsAsWarnings bool               `json:"treatErrorsAsWarnings"`
	Trace                 Trace              `json:"trace"`
}

// DefaultLanguages are the language ids validated by default.
var DefaultLanguages = []string{"javascript", "javascriptreact", "typescript", "typescriptreact"}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Enable:         true,
		Engine:         engine.Standard,
		UsePackageJSON: true,
		Run:            RunOnType,
		Runtime:        "node",
		Validate:       slices.Clone(DefaultLanguages),
		Trace:          Trace{Server: "off"},
	}
}

// Decode overlays raw onto base. raw is any JSON-compatible value: an LSP
// settings payload, a workspace/configuration item or a config file map. A
// top-level "standard" object is unwrapped first. Keys absent from raw keep
// their base value; options are merged key by key.
func Decode(base Settings, raw any) (Settings, error) {
	s := base.Clone()
	if raw == nil {
		return s, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return base, fmt.Errorf("encoding settings: %w", err)
	}
	if v := gjson.GetBytes(data, Section); v.IsObject() {
		data = []byte(v.Raw)
	}
	if !gjson.ParseBytes(data).IsObject() {
		// null or a scalar payload carries no settings.
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return base, fmt.Errorf("decoding settings: %w", err)
	}
	if err := s.validate(); err != nil {
		return base, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.Engine == "" {
		s.Engine = engine.Standard
	}
	e, err := engine.Parse(string(s.Engine))
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	s.Engine = e
	switch s.Run {
	case "":
		s.Run = RunOnType
	case RunOnType, RunOnSave:
	default:
		return fmt.Errorf("settings: unknown run mode %q (expected onType or onSave)", s.Run)
	}
	if s.Runtime == "" {
		s.Runtime = "node"
	}
	return nil
}

// viperKeys lists the scalar settings that may come from the config file or
// the environment.
var viperKeys = []struct {
	name string
	bool bool
}{
	{"enable", true},
	{"enableGlobally", true},
	{"engine", false},
	{"usePackageJson", true},
	{"autoFixOnSave", true},
	{"run", false},
	{"nodePath", false},
	{"runtime", false},
	{"treatErrorsAsWarnings", true},
}

// FromViper returns the defaults overridden by the "standard" section of
// the viper configuration. Scalar keys may also be set through the
// environment (STANDARD_LS_STANDARD_ENGINE=semistandard).
func FromViper(v *viper.Viper) (Settings, error) {
	raw := make(map[string]any)
	for _, k := range viperKeys {
		key := Section + "." + k.name
		if !v.IsSet(key) {
			continue
		}
		if k.bool {
			raw[k.name] = v.GetBool(key)
		} else {
			raw[k.name] = v.GetString(key)
		}
	}
	for _, name := range []string{"options", "validate", "workingDirectories"} {
		if val := v.Get(Section + "." + name); val != nil {
			raw[name] = val
		}
	}
	// Options are handed to the engine verbatim; viper lowercases keys.
	opts, err := configOptions(v)
	if err != nil {
		return Settings{}, err
	}
	if opts != nil {
		raw["options"] = opts
	}
	return Decode(Defaults(), raw)
}

// configOptions reads the options section of the config file with its key
// case intact. It returns nil when there is no config file or its format
// is not YAML, JSON or TOML.
func configOptions(v *viper.Viper) (map[string]any, error) {
	path := v.ConfigFileUsed()
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // config file named by the user
	if err != nil {
		return nil, nil
	}
	var doc map[string]any
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".") {
	case "yaml", "yml", "json":
		err = yaml.Unmarshal(data, &doc)
	case "toml":
		err = toml.Unmarshal(data, &doc)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	section, _ := doc[Section].(map[string]any)
	opts, _ := section["options"].(map[string]any)
	return opts, nil
}

// Validates reports whether documents of the language are linted.
func (s Settings) Validates(languageID string) bool {
	return slices.Contains(s.Validate, languageID)
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	c := s
	c.Options = cloneMap(s.Options)
	c.Validate = slices.Clone(s.Validate)
	c.WorkingDirectories = slices.Clone(s.WorkingDirectories)
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		c := make([]any, len(v))
		for i := range v {
			c[i] = cloneValue(v[i])
		}
		return c
	default:
		return v
	}
}
