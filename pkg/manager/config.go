package manager

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-unitd/pkg/control"
	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/policy"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// Config represents the top-level configuration file structure
type Config struct {
	Manager ManagerOptions      `yaml:"manager"`
	Policy  policy.EngineConfig `yaml:"policy"`
	Units   []UnitSeed          `yaml:"units"`
}

// ManagerOptions represents daemon-level configuration
type ManagerOptions struct {
	SocketPath           string        `yaml:"socket_path"`
	SettingsRoot         string        `yaml:"settings_root"`
	LogLevel             string        `yaml:"log_level,omitempty"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
}

// UnitSeed declares a unit to register at startup. Seeded units come up in
// loaded state; transient units are created over the management surface
// instead.
type UnitSeed struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Perpetual   bool     `yaml:"perpetual,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty"`
	CgroupPath  *string  `yaml:"cgroup_path,omitempty"`
	Delegate    bool     `yaml:"delegate,omitempty"`
	Slice       string   `yaml:"slice,omitempty"`
}

// LoadConfigFromFile loads daemon configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewInvalidArgumentError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)
	return &config, nil
}

func setConfigDefaults(config *Config) {
	if config.Manager.SocketPath == "" {
		config.Manager.SocketPath = "/run/unitd/control.sock"
	}
	if config.Manager.SettingsRoot == "" {
		config.Manager.SettingsRoot = "/run/unitd/settings"
	}
	if config.Manager.LogLevel == "" {
		config.Manager.LogLevel = "info"
	}
	if config.Manager.ForceShutdownTimeout == 0 {
		config.Manager.ForceShutdownTimeout = 30 * time.Second
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewInvalidArgumentError("configuration cannot be nil", nil)
	}

	seen := make(map[string]struct{})
	for i := range config.Units {
		seed := &config.Units[i]
		if err := unit.ValidateName(seed.Name, unit.NamePlain|unit.NameInstance); err != nil {
			return errors.NewInvalidArgumentError("invalid unit name in configuration", err).
				WithContext("index", i).WithContext("name", seed.Name)
		}
		if _, dup := seen[seed.Name]; dup {
			return errors.NewInvalidArgumentError("duplicate unit name in configuration", nil).
				WithContext("name", seed.Name)
		}
		seen[seed.Name] = struct{}{}

		for _, alias := range seed.Aliases {
			if err := unit.ValidateName(alias, unit.NamePlain|unit.NameInstance); err != nil {
				return errors.NewInvalidArgumentError("invalid unit alias in configuration", err).
					WithContext("name", seed.Name).WithContext("alias", alias)
			}
		}
	}
	return nil
}

// ServerConfig derives the transport configuration.
func (c *Config) ServerConfig() control.ServerConfig {
	return control.ServerConfig{SocketPath: c.Manager.SocketPath}
}

// CreateUnitsFromConfig registers the seeded units with the manager.
func CreateUnitsFromConfig(config *Config, m *Manager, logger logging.Logger) error {
	for i := range config.Units {
		seed := &config.Units[i]
		u, err := m.LoadUnitPrepare(seed.Name)
		if err != nil {
			return err
		}

		u.LoadState = unit.LoadStateLoaded
		u.Description = seed.Description
		u.Perpetual = seed.Perpetual
		u.CgroupPath = seed.CgroupPath
		u.CgroupDelegate = seed.Delegate
		u.Slice = seed.Slice

		for _, alias := range seed.Aliases {
			if err := u.AddAlias(alias); err != nil {
				return err
			}
			m.registerAlias(u, alias)
		}

		m.EnqueueChange(u)
		logger.Infof("Registered unit, name: %s, kind: %s", seed.Name, u.Kind)
	}
	return nil
}
