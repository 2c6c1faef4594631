package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/indigoops/indigo/pkg/platform"
	"github.com/indigoops/indigo/pkg/policy"
	"github.com/indigoops/indigo/pkg/ratelimit"
	"github.com/indigoops/indigo/pkg/stores"
	"github.com/indigoops/indigo/pkg/telemetry"
)

// Environment variables that override file settings.
const (
	EnvDBPath      = "INDIGO_DB_PATH"
	EnvPlatformURL = "INDIGO_PLATFORM_URL"
	EnvLogLevel    = "LOG_LEVEL"
)

// DefaultPath is the config file read when none is given and it exists.
const DefaultPath = "indigo.yaml"

// Config is the process configuration.
type Config struct {
	Database  stores.Config    `yaml:"database"`
	Platform  platform.Config  `yaml:"platform"`
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	Policy    policy.Config    `yaml:"policy"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Database:  stores.Config{Path: "indigo.db"},
		Platform:  platform.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Policy:    policy.Config{},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads path on top of the defaults, applies environment overrides and
// validates the result. An empty path loads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without reading the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup(EnvPlatformURL); ok && v != "" {
		c.Platform.BaseURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Telemetry.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks struct tags and the telemetry section.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid config: telemetry: %w", err)
	}
	return nil
}

// StepBudget is the step count the policy engine compares plans against.
func (c *Config) StepBudget() int {
	if c.Policy.StepBudget > 0 {
		return c.Policy.StepBudget
	}
	return int(c.RateLimit.Capacity)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}
