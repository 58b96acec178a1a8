// Package config resolves the daemon's configuration surface, layering
// a YAML file, environment variables, and CLI flags, each layer
// overriding the one before it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort    = 3000
	DefaultAddress = ""
)

// File is the on-disk shape of ~/.termaway/config.yaml. Any field left
// unset falls through to the environment, then to CLI flags.
type File struct {
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	Password    string `yaml:"password"`
	ServiceName string `yaml:"serviceName"`
}

// Config is the fully resolved configuration surface.
type Config struct {
	Address     string
	Port        int
	Password    string
	CertDir     string
	ServiceName string
}

// Overrides carries CLI-flag values; a pointer field nil means "flag not
// set", so it does not override a lower layer.
type Overrides struct {
	Address     *string
	Port        *int
	Password    *string
	CertDir     *string
	ServiceName *string
}

// Load resolves Config from, in increasing priority: the YAML file at
// path (if it exists), the TERMAWAY_* environment variables, then ov.
func Load(path string, ov Overrides) (Config, error) {
	cfg := Config{
		Address: DefaultAddress,
		Port:    DefaultPort,
	}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var f File
			if err := yaml.Unmarshal(data, &f); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
			if f.Address != "" {
				cfg.Address = f.Address
			}
			if f.Port != 0 {
				cfg.Port = f.Port
			}
			if f.Password != "" {
				cfg.Password = f.Password
			}
			if f.ServiceName != "" {
				cfg.ServiceName = f.ServiceName
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if v := os.Getenv("TERMAWAY_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("TERMAWAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("TERMAWAY_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("TERMAWAY_PASSWORD"); v != "" {
		cfg.Password = v
	}

	if ov.Address != nil {
		cfg.Address = *ov.Address
	}
	if ov.Port != nil {
		cfg.Port = *ov.Port
	}
	if ov.Password != nil {
		cfg.Password = *ov.Password
	}
	if ov.CertDir != nil {
		cfg.CertDir = *ov.CertDir
	}
	if ov.ServiceName != nil {
		cfg.ServiceName = *ov.ServiceName
	}

	if cfg.CertDir == "" {
		cfg.CertDir = DefaultCertDir()
	}

	return cfg, nil
}

// DefaultCertDir returns ~/.termaway/certs.
func DefaultCertDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termaway/certs"
	}
	return filepath.Join(home, ".termaway", "certs")
}

// DefaultConfigPath returns ~/.termaway/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termaway/config.yaml"
	}
	return filepath.Join(home, ".termaway", "config.yaml")
}
