package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"rebalancer/src/datamodels"
	"rebalancer/src/utils/general"
)

// Load reads the simulator configuration. A .env file, when present,
// is loaded first so that database credentials can stay out of the
// YAML file. The config path comes from CONFIG_PATH or falls back to
// config.local.yaml two levels above this package.
func Load() (*datamodels.SimulatorConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		currentDir := general.GetCurrentDir()
		configPath = filepath.Join(currentDir, "..", "..", "config.local.yaml")
	}

	return LoadFrom(configPath)
}

func LoadFrom(configPath string) (*datamodels.SimulatorConfig, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var simConfig datamodels.SimulatorConfig
	if err := v.Unmarshal(&simConfig); err != nil {
		return nil, err
	}

	applyEnvOverrides(&simConfig)

	if err := simConfig.Validate(); err != nil {
		return nil, err
	}

	return &simConfig, nil
}

func applyEnvOverrides(cfg *datamodels.SimulatorConfig) {
	if cfg.Database == nil {
		return
	}
	if uri := os.Getenv("RESULTS_DB_URI"); uri != "" {
		cfg.Database.URI = uri
	}
	if pw := os.Getenv("RESULTS_DB_PASSWORD"); pw != "" {
		cfg.Database.Password = pw
	}
}
