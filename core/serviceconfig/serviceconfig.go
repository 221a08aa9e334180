// Package serviceconfig loads the optional service-defaults file: timer
// durations and error-log sizing that operators rarely need to touch.
package serviceconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

type Config struct {
	Session SessionDefaults `yaml:"session"`
	ErrLog  ErrLogDefaults  `yaml:"errlog"`
}

type SessionDefaults struct {
	TimeoutSeconds        int `yaml:"timeout_seconds"`
	IdleCandidateSeconds  int `yaml:"idle_candidate_seconds"`
	ConfirmDefaultSeconds int `yaml:"confirm_default_seconds"`
}

type ErrLogDefaults struct {
	Capacity int `yaml:"capacity"`
}

// Load reads the file at path. With allowMissing a missing or empty file
// yields the zero configuration, whose accessors fall back to defaults.
func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		if allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("service config path is required")
	}

	// #nosec G304 -- service config path is explicit operator input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read service config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse service config: %w", err)
	}
	if err := configuration.validate(); err != nil {
		return Config{}, err
	}
	return configuration, nil
}

func (c Config) validate() error {
	for _, field := range []struct {
		name  string
		value int
	}{
		{"session.timeout_seconds", c.Session.TimeoutSeconds},
		{"session.idle_candidate_seconds", c.Session.IdleCandidateSeconds},
		{"session.confirm_default_seconds", c.Session.ConfirmDefaultSeconds},
		{"errlog.capacity", c.ErrLog.Capacity},
	} {
		if field.value < 0 {
			return fmt.Errorf("service config %s must not be negative", field.name)
		}
	}
	return nil
}

func (c Config) SessionTimeout() time.Duration {
	if c.Session.TimeoutSeconds == 0 {
		return 360 * time.Second
	}
	return time.Duration(c.Session.TimeoutSeconds) * time.Second
}

func (c Config) IdleCandidateTimeout() time.Duration {
	if c.Session.IdleCandidateSeconds == 0 {
		return 180 * time.Second
	}
	return time.Duration(c.Session.IdleCandidateSeconds) * time.Second
}

func (c Config) ConfirmDefaultTimeout() time.Duration {
	if c.Session.ConfirmDefaultSeconds == 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Session.ConfirmDefaultSeconds) * time.Second
}

func (c Config) ErrLogCapacity() int {
	if c.ErrLog.Capacity == 0 {
		return 64
	}
	return c.ErrLog.Capacity
}
