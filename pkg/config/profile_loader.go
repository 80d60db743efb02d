package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/treasuryops/stablepay/pkg/engine"
)

// ExecutionProfile tunes how aggressively a deployment drives payments.
// Treasury desks run "conservative" (fewer attempts, long polls); ops testing
// runs "aggressive".
type ExecutionProfile struct {
	Name string `yaml:"name"`

	Retry engine.RetryPolicy `yaml:"retry"`

	PollIntervalMs int64 `yaml:"poll_interval_ms"`
	PollTimeoutMs  int64 `yaml:"poll_timeout_ms"`
	Concurrency    int   `yaml:"concurrency"`

	Fees FeeProfile `yaml:"fees"`
}

// FeeProfile mirrors the settlement fee policy in profile files.
type FeeProfile struct {
	GasLimit      uint64 `yaml:"gas_limit"`
	BufferPercent int64  `yaml:"buffer_percent"`
	BumpPercent   int64  `yaml:"bump_percent"`
}

// EngineOptions converts the profile to engine options.
func (p *ExecutionProfile) EngineOptions() engine.Options {
	return engine.Options{
		Retry:        p.Retry,
		PollInterval: time.Duration(p.PollIntervalMs) * time.Millisecond,
		PollTimeout:  time.Duration(p.PollTimeoutMs) * time.Millisecond,
		Concurrency:  p.Concurrency,
	}
}

// LoadProfile loads an execution profile by name from profilesDir, looking for
// profile_<name>.yaml. An unknown name falls back to built-in defaults only
// when the directory itself is absent.
func LoadProfile(profilesDir, name string) (*ExecutionProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if _, derr := os.Stat(profilesDir); os.IsNotExist(derr) {
				return DefaultProfile(), nil
			}
		}
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile ExecutionProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	if profile.Retry.MaxAttempts <= 0 {
		return nil, fmt.Errorf("profile %q: retry.max_attempts must be positive", name)
	}
	return &profile, nil
}

// DefaultProfile is the built-in standard profile.
func DefaultProfile() *ExecutionProfile {
	return &ExecutionProfile{
		Name:           "standard",
		Retry:          engine.DefaultRetryPolicy(),
		PollIntervalMs: 2000,
		PollTimeoutMs:  120000,
		Concurrency:    4,
		Fees:           FeeProfile{GasLimit: 401000, BufferPercent: 35, BumpPercent: 25},
	}
}
