package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the pool-wide difficulty and behavior policy, loaded from a
// YAML file and then overridable per field by the matching environment
// variable via the Apply* helpers below.
type Policy struct {
	StartDiff     float64 `yaml:"startdiff"`
	MinDiff       float64 `yaml:"mindiff"`
	MaxDiff       float64 `yaml:"maxdiff"`
	PoolMinDiff   float64 `yaml:"pool_mindiff"`
	AllowLowDiff  bool    `yaml:"allow_low_diff"`
	DropIdle      int     `yaml:"dropidle"` // seconds; 0 disables idle-drop
	DonationPct   float64 `yaml:"donation"`
	UserAgent     string  `yaml:"useragent"`
}

// DefaultPolicy returns the pool's out-of-the-box policy.
func DefaultPolicy() Policy {
	return Policy{
		StartDiff:    42.0,
		MinDiff:      1.0,
		MaxDiff:      0, // 0 = no ceiling
		PoolMinDiff:  1.0,
		AllowLowDiff: false,
		DropIdle:     300,
		DonationPct:  1.0,
		UserAgent:    "stratifier",
	}
}

// LoadPolicyFile reads a YAML policy file, starting from DefaultPolicy for
// any field the file omits.
func LoadPolicyFile(path string) (Policy, error) {
	p := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

// ApplyEnvOverrides layers environment-variable overrides on top of a loaded
// policy, following the same GetEnv* convention as the rest of the package.
func (p Policy) ApplyEnvOverrides() Policy {
	p.StartDiff = GetEnvFloat64("STRATIFIER_STARTDIFF", p.StartDiff)
	p.MinDiff = GetEnvFloat64("STRATIFIER_MINDIFF", p.MinDiff)
	p.MaxDiff = GetEnvFloat64("STRATIFIER_MAXDIFF", p.MaxDiff)
	p.PoolMinDiff = GetEnvFloat64("STRATIFIER_POOL_MINDIFF", p.PoolMinDiff)
	p.AllowLowDiff = GetEnvBool("STRATIFIER_ALLOW_LOW_DIFF", p.AllowLowDiff)
	p.DropIdle = GetEnvInt("STRATIFIER_DROPIDLE", p.DropIdle)
	p.DonationPct = GetEnvFloat64("STRATIFIER_DONATION", p.DonationPct)
	p.UserAgent = GetEnv("STRATIFIER_USERAGENT", p.UserAgent)
	return p
}
