// Package config loads .argus.yaml, searched upward from a start directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up by Load.
const FileName = ".argus.yaml"

// Config is the project configuration. Zero values are replaced by Default.
type Config struct {
	// Root is the workspace root. Relative paths resolve against the
	// directory holding the config file.
	Root string `yaml:"root"`

	// Artifacts is the build-info directory, relative to Root.
	Artifacts string `yaml:"artifacts" validate:"required"`

	// DB is the index database path, relative to Root.
	DB string `yaml:"db" validate:"required"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// Debounce is the delay between the last change and a regeneration.
	Debounce time.Duration `yaml:"debounce" validate:"gte=0,lte=10s"`

	// MaxDepth bounds expansion in generated trees; 0 means unbounded.
	MaxDepth int `yaml:"max_depth" validate:"gte=0,lte=64"`

	BuildCommand []string `yaml:"build_command" validate:"omitempty,dive,required"`
	ExportDir    string   `yaml:"export_dir"`

	IncludeAll  bool `yaml:"include_all"`
	IncludeDeps bool `yaml:"include_deps"`

	Web Web `yaml:"web"`
}

// Web configures the live view server.
type Web struct {
	Port int  `yaml:"port" validate:"gte=0,lte=65535"`
	Open bool `yaml:"open"`
}

// Default returns the built-in configuration for a forge project.
func Default() Config {
	return Config{
		Root:         ".",
		Artifacts:    "out/build-info",
		DB:           ".argus/index.db",
		LogLevel:     "info",
		Debounce:     300 * time.Millisecond,
		BuildCommand: []string{"forge", "build", "--build-info"},
		ExportDir:    ".",
		Web:          Web{Port: 7420},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load searches startDir and its parents for FileName. It returns the
// defaults and an empty path when none is found. Root in the result is
// always absolute.
func Load(startDir string) (Config, string, error) {
	cfg := Default()
	start, err := filepath.Abs(startDir)
	if err != nil {
		return cfg, "", err
	}

	path := find(start)
	if path == "" {
		cfg.Root = start
		return cfg, "", nil
	}
	cfg, err = Read(path)
	return cfg, path, err
}

// Read decodes and validates one config file.
func Read(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}
	cfg.Root = filepath.Clean(cfg.Root)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func find(dir string) string {
	for {
		candidate := filepath.Join(dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate checks field constraints and reports every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Path resolves p against Root unless it is absolute.
func (c Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Level maps LogLevel to a slog level.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
