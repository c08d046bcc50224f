package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so tuning files can use "30s"-style values.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses either a duration string ("30s") or integer
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
		return nil
	case int:
		d.Duration = time.Duration(v)
		return nil
	case int64:
		d.Duration = time.Duration(v)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// FetchTuning configures the blob-fetch retry policy.
type FetchTuning struct {
	PropagationWait Duration `yaml:"propagation_wait"`
	RetryDelay      Duration `yaml:"retry_delay"`
	MaxRetries      int      `yaml:"max_retries"`
	Timeout         Duration `yaml:"timeout"`
}

// KeyRecoveryTuning configures the sealed-key recovery retry policy.
type KeyRecoveryTuning struct {
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	MaxAttempts    int      `yaml:"max_attempts"`
}

// QualityTuning holds the audio quality thresholds used by the score rubric.
type QualityTuning struct {
	MinDuration       float64 `yaml:"min_duration_seconds"`
	MaxDuration       float64 `yaml:"max_duration_seconds"`
	MinSampleRate     int     `yaml:"min_sample_rate_hz"`
	MaxSilencePercent float64 `yaml:"max_silence_percent"`
}

// Tuning holds operational knobs that rarely change but occasionally need to
// be adjusted per deployment without a rebuild. Defaults are compiled in; a
// YAML file named by TUNING_FILE overrides individual fields.
type Tuning struct {
	Quality     QualityTuning     `yaml:"quality"`
	Fetch       FetchTuning       `yaml:"fetch"`
	KeyRecovery KeyRecoveryTuning `yaml:"key_recovery"`
}

// DefaultTuning returns the compiled-in tuning values.
func DefaultTuning() Tuning {
	return Tuning{
		Quality: QualityTuning{
			MinDuration:       1.0,
			MaxDuration:       3600.0,
			MinSampleRate:     8000,
			MaxSilencePercent: 30.0,
		},
		Fetch: FetchTuning{
			PropagationWait: Duration{15 * time.Second},
			RetryDelay:      Duration{30 * time.Second},
			MaxRetries:      10,
			Timeout:         Duration{300 * time.Second},
		},
		KeyRecovery: KeyRecoveryTuning{
			AttemptTimeout: Duration{60 * time.Second},
			MaxAttempts:    3,
		},
	}
}

// LoadTuning loads tuning values, applying overrides from the given YAML file
// when path is non-empty. A missing file is an error: a deployment that names
// a tuning file expects it to take effect.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning file: %w", err)
	}

	if t.Fetch.MaxRetries < 1 {
		return t, fmt.Errorf("fetch.max_retries must be at least 1")
	}
	if t.KeyRecovery.MaxAttempts < 1 {
		return t, fmt.Errorf("key_recovery.max_attempts must be at least 1")
	}
	return t, nil
}
