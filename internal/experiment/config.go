package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Config is the target configuration a client supplies with
// start_with_config. It is read-only once accepted.
type Config struct {
	Targets []Region     `json:"targets"`
	Pairs   []RegionPair `json:"pairs,omitempty"`
	Rounds  [][]int      `json:"rounds,omitempty"`
}

// UnmarshalJSON also accepts a bare array of regions, which older clients send
// as the sustained target list.
func (c *Config) UnmarshalJSON(b []byte) error {
	if trimmed := bytes.TrimSpace(b); len(trimmed) > 0 && trimmed[0] == '[' {
		var targets []Region
		if err := json.Unmarshal(trimmed, &targets); err != nil {
			return err
		}
		*c = Config{Targets: targets}
		return nil
	}
	type plain Config
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

// Validate rejects an empty or malformed configuration. Rounds are optional,
// but when given there must be exactly two non-empty sets.
func (c Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: no sustained targets", ErrInvalidConfig)
	}
	for i, r := range c.Targets {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: target %d: %v", ErrInvalidConfig, i, err)
		}
	}
	for i, p := range c.Pairs {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: pair %d: %v", ErrInvalidConfig, i, err)
		}
	}
	if c.Rounds != nil {
		if err := validateRounds(c.Rounds); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

func validateRounds(rounds [][]int) error {
	if len(rounds) != selectionRounds {
		return fmt.Errorf("expected %d selection rounds, got %d", selectionRounds, len(rounds))
	}
	for i, r := range rounds {
		if len(r) == 0 {
			return fmt.Errorf("selection round %d has no expected answers", i+1)
		}
	}
	return nil
}

// Settings are the server-side timing constants of the experiment.
type Settings struct {
	SuccessDuration       time.Duration
	OmissionWindow        time.Duration
	DividedOmissionWindow time.Duration
	DefaultRounds         [][]int
}

func DefaultSettings() Settings {
	return Settings{
		SuccessDuration:       5 * time.Second,
		OmissionWindow:        10 * time.Second,
		// Two sequential 5s runs cannot fit in the 10s single-target window.
		DividedOmissionWindow: 20 * time.Second,
		DefaultRounds:         [][]int{{2, 5, 7}, {1, 4, 8}},
	}
}

func (s Settings) windowFor(p Phase) time.Duration {
	if p == PhaseDivided {
		return s.DividedOmissionWindow
	}
	return s.OmissionWindow
}
