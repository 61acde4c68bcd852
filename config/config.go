// Package config holds the analysis configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Model types.
const (
	ModelSkyride     = "skyride"
	ModelSkyline     = "skyline"
	ModelConstant    = "constant"
	ModelExponential = "exponential"
)

// Config is the top-level configuration. Field tags use mapstructure
// for viper unmarshalling and yaml for writing.
type Config struct {
	Trees        []string           `mapstructure:"trees" yaml:"trees"`
	Model        ModelConfig        `mapstructure:"model" yaml:"model"`
	Priors       []PriorConfig      `mapstructure:"priors" yaml:"priors"`
	MCMC         MCMCConfig         `mapstructure:"mcmc" yaml:"mcmc"`
	Substitution SubstitutionConfig `mapstructure:"substitution" yaml:"substitution"`
}

// ModelConfig describes the coalescent model.
type ModelConfig struct {
	Type               string        `mapstructure:"type" yaml:"type"`
	TimeAwareSmoothing bool          `mapstructure:"time_aware_smoothing" yaml:"time_aware_smoothing"`
	Lambda             float64       `mapstructure:"lambda" yaml:"lambda"`
	Precision          float64       `mapstructure:"precision" yaml:"precision"`
	PopSize            float64       `mapstructure:"pop_size" yaml:"pop_size"`
	Growth             float64       `mapstructure:"growth" yaml:"growth"`
	Skyline            SkylineConfig `mapstructure:"skyline" yaml:"skyline"`
}

// SkylineConfig holds variable skyline settings.
type SkylineConfig struct {
	Type     string `mapstructure:"type" yaml:"type"`
	LogSpace bool   `mapstructure:"log_space" yaml:"log_space"`
	Classic  bool   `mapstructure:"classic" yaml:"classic"`
}

// PriorConfig is a prior on a named parameter. A and B are the
// distribution parameters (shape and scale, rate, mu and sigma, min
// and max).
type PriorConfig struct {
	Parameter    string  `mapstructure:"parameter" yaml:"parameter"`
	Distribution string  `mapstructure:"distribution" yaml:"distribution"`
	A            float64 `mapstructure:"a" yaml:"a"`
	B            float64 `mapstructure:"b" yaml:"b"`
}

// MCMCConfig holds sampler settings.
type MCMCConfig struct {
	Iterations        int     `mapstructure:"iterations" yaml:"iterations"`
	Report            int     `mapstructure:"report" yaml:"report"`
	TracePeriod       int     `mapstructure:"trace_period" yaml:"trace_period"`
	Seed              int64   `mapstructure:"seed" yaml:"seed"`
	Adaptive          bool    `mapstructure:"adaptive" yaml:"adaptive"`
	Checkpoint        string  `mapstructure:"checkpoint" yaml:"checkpoint"`
	CheckpointSeconds float64 `mapstructure:"checkpoint_seconds" yaml:"checkpoint_seconds"`
	Burnin            float64 `mapstructure:"burnin" yaml:"burnin"`
}

// SubstitutionConfig describes a substitution model.
type SubstitutionConfig struct {
	Model              string    `mapstructure:"model" yaml:"model"`
	Kappa              float64   `mapstructure:"kappa" yaml:"kappa"`
	Kappa2             float64   `mapstructure:"kappa2" yaml:"kappa2"`
	Frequencies        []float64 `mapstructure:"frequencies" yaml:"frequencies"`
	Rates              []float64 `mapstructure:"rates" yaml:"rates"`
	States             int       `mapstructure:"states" yaml:"states"`
	MaxConditionNumber float64   `mapstructure:"max_condition_number" yaml:"max_condition_number"`
	Normalize          bool      `mapstructure:"normalize" yaml:"normalize"`
}

// Sentinel errors for configuration validation.
var (
	// ErrModelType indicates an unknown coalescent model.
	ErrModelType = errors.New("model.type must be one of skyride, skyline, constant, exponential")
	// ErrLambda indicates lambda outside of [0, 1].
	ErrLambda = errors.New("model.lambda must be between 0 and 1")
	// ErrPrecision indicates non-positive precision.
	ErrPrecision = errors.New("model.precision must be positive")
	// ErrPopSize indicates non-positive initial population size.
	ErrPopSize = errors.New("model.pop_size must be positive")
	// ErrIterations indicates a negative number of iterations.
	ErrIterations = errors.New("mcmc.iterations must be non-negative")
	// ErrPeriod indicates non-positive report or trace period.
	ErrPeriod = errors.New("mcmc.report and mcmc.trace_period must be positive")
	// ErrBurnin indicates burnin outside of [0, 1).
	ErrBurnin = errors.New("mcmc.burnin must be in [0, 1)")
	// ErrPrior indicates an incomplete prior.
	ErrPrior = errors.New("priors require parameter and distribution")
	// ErrSubstitution indicates an unknown substitution model.
	ErrSubstitution = errors.New("substitution.model must be one of JC, HKY, TN93, GTR, complex")
	// ErrConditionNumber indicates non-positive maximum condition number.
	ErrConditionNumber = errors.New("substitution.max_condition_number must be positive")
)

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Model.Type {
	case ModelSkyride, ModelSkyline, ModelConstant, ModelExponential:
	default:
		return fmt.Errorf("%w, got %q", ErrModelType, c.Model.Type)
	}
	if c.Model.Lambda < 0 || c.Model.Lambda > 1 {
		return ErrLambda
	}
	if c.Model.Precision <= 0 {
		return ErrPrecision
	}
	if c.Model.PopSize <= 0 {
		return ErrPopSize
	}
	if c.MCMC.Iterations < 0 {
		return ErrIterations
	}
	if c.MCMC.Report <= 0 || c.MCMC.TracePeriod <= 0 {
		return ErrPeriod
	}
	if c.MCMC.Burnin < 0 || c.MCMC.Burnin >= 1 {
		return ErrBurnin
	}
	for _, p := range c.Priors {
		if p.Parameter == "" || p.Distribution == "" {
			return ErrPrior
		}
	}
	switch strings.ToLower(c.Substitution.Model) {
	case "jc", "hky", "tn93", "gtr", "complex":
	default:
		return fmt.Errorf("%w, got %q", ErrSubstitution, c.Substitution.Model)
	}
	if c.Substitution.MaxConditionNumber <= 0 {
		return ErrConditionNumber
	}
	return nil
}

// Write writes the configuration as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
