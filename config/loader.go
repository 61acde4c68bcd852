package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".skyride"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix.
const envPrefix = "SKYRIDE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Default values.
const (
	DefaultModelType          = ModelSkyride
	DefaultLambda             = 1.0
	DefaultPrecision          = 1.0
	DefaultPopSize            = 1.0
	DefaultSkylineType        = "stepwise"
	DefaultIterations         = 100000
	DefaultReport             = 1000
	DefaultTracePeriod        = 100
	DefaultCheckpointSeconds  = 60.0
	DefaultBurnin             = 0.1
	DefaultSubstitutionModel  = "HKY"
	DefaultKappa              = 2.0
	DefaultMaxConditionNumber = 1000.0
)

// DefaultPriors are used for the skyride when no prior is configured.
// The precision prior is the usual vague gamma.
var DefaultPriors = []PriorConfig{
	{Parameter: "skyride.precision", Distribution: "gamma", A: 0.001, B: 1000},
}

// Load loads configuration from file, env vars, and defaults. If
// configPath is empty, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	if err := viperCfg.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Priors) == 0 && cfg.Model.Type == ModelSkyride {
		cfg.Priors = append(cfg.Priors, DefaultPriors...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("trees", []string{})

	viperCfg.SetDefault("model.type", DefaultModelType)
	viperCfg.SetDefault("model.time_aware_smoothing", false)
	viperCfg.SetDefault("model.lambda", DefaultLambda)
	viperCfg.SetDefault("model.precision", DefaultPrecision)
	viperCfg.SetDefault("model.pop_size", DefaultPopSize)
	viperCfg.SetDefault("model.growth", 0.0)
	viperCfg.SetDefault("model.skyline.type", DefaultSkylineType)
	viperCfg.SetDefault("model.skyline.log_space", false)
	viperCfg.SetDefault("model.skyline.classic", false)

	viperCfg.SetDefault("mcmc.iterations", DefaultIterations)
	viperCfg.SetDefault("mcmc.report", DefaultReport)
	viperCfg.SetDefault("mcmc.trace_period", DefaultTracePeriod)
	viperCfg.SetDefault("mcmc.seed", int64(-1))
	viperCfg.SetDefault("mcmc.adaptive", false)
	viperCfg.SetDefault("mcmc.checkpoint", "")
	viperCfg.SetDefault("mcmc.checkpoint_seconds", DefaultCheckpointSeconds)
	viperCfg.SetDefault("mcmc.burnin", DefaultBurnin)

	viperCfg.SetDefault("substitution.model", DefaultSubstitutionModel)
	viperCfg.SetDefault("substitution.kappa", DefaultKappa)
	viperCfg.SetDefault("substitution.kappa2", DefaultKappa)
	viperCfg.SetDefault("substitution.frequencies", []float64{})
	viperCfg.SetDefault("substitution.rates", []float64{})
	viperCfg.SetDefault("substitution.states", 4)
	viperCfg.SetDefault("substitution.max_condition_number", DefaultMaxConditionNumber)
	viperCfg.SetDefault("substitution.normalize", true)
}
