// pkg/config/config.go - configuration settings for winfeature.

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/windows/registry"
	"gopkg.in/yaml.v3"
)

const ConfigPath = `C:\ProgramData\WinFeature\Config.yaml`

// CSP OMA-URI registry path for enterprise policy configuration
const CSPRegistryPath = `SOFTWARE\WinFeature\Config`

// Configuration holds the configurable options for winfeature in YAML format
type Configuration struct {
	Debug                  bool   `yaml:"Debug"`
	Verbose                bool   `yaml:"Verbose"`
	CheckOnly              bool   `yaml:"CheckOnly"`
	LogLevel               string `yaml:"LogLevel"`
	LogsPath               string `yaml:"LogsPath"`
	TimeoutSeconds         int    `yaml:"TimeoutSeconds"`         // Default timeout for feature commands (in seconds)
	Source                 string `yaml:"Source"`                 // Alternate installation media for removed features
	IncludeAllSubFeatures  bool   `yaml:"IncludeAllSubFeatures"`  // Install all sub-features by default
	IncludeManagementTools bool   `yaml:"IncludeManagementTools"` // Install management tools by default
}

// LoadConfig loads the configuration from the default YAML file.
// If the YAML file doesn't exist, it falls back to CSP OMA-URI registry settings.
func LoadConfig() (*Configuration, error) {
	return LoadConfigFrom(ConfigPath)
}

// LoadConfigFrom loads the configuration from a specific YAML path.
func LoadConfigFrom(path string) (*Configuration, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("Configuration file does not exist: %s", path)

		config, cspErr := LoadConfigFromCSP()
		if cspErr == nil {
			log.Printf("Loaded configuration from CSP OMA-URI registry settings")
			return config, nil
		}

		return nil, fmt.Errorf("configuration file does not exist and CSP fallback failed: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing configuration file: %w", err)
	}

	applyDefaults(config)
	return config, nil
}

// SaveConfig saves the current configuration to the default YAML file.
func SaveConfig(config *Configuration) error {
	return SaveConfigTo(config, ConfigPath)
}

// SaveConfigTo saves the current configuration to a specific YAML path.
func SaveConfigTo(config *Configuration, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("serializing configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating configuration directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing configuration file: %w", err)
	}

	return nil
}

// GetDefaultConfig provides default configuration values.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		LogLevel:       "INFO",
		LogsPath:       `C:\ProgramData\WinFeature\logs`,
		Debug:          false,
		Verbose:        false,
		CheckOnly:      false,
		TimeoutSeconds: 600,
	}
}

// applyDefaults fills fields a partial YAML file left empty.
func applyDefaults(config *Configuration) {
	if config.LogsPath == "" {
		config.LogsPath = `C:\ProgramData\WinFeature\logs`
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 600
	}
}

// LoadConfigFromCSP loads configuration from Windows CSP OMA-URI registry settings.
// This serves as a fallback when the Config.yaml file doesn't exist.
func LoadConfigFromCSP() (*Configuration, error) {
	config := GetDefaultConfig()

	if err := loadCSPFromRegistryPath(CSPRegistryPath, config); err != nil {
		return nil, fmt.Errorf("failed to load from CSP registry path: %w", err)
	}

	log.Printf("Loaded CSP configuration from registry path: %s", CSPRegistryPath)

	applyDefaults(config)
	return config, nil
}

// loadCSPFromRegistryPath loads configuration values from a specific registry path.
func loadCSPFromRegistryPath(registryPath string, config *Configuration) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, registryPath, registry.READ)
	if err != nil {
		return fmt.Errorf("failed to open CSP registry key %s: %w", registryPath, err)
	}
	defer key.Close()

	loadStringFromRegistry(key, "LogLevel", &config.LogLevel)
	loadStringFromRegistry(key, "LogsPath", &config.LogsPath)
	loadStringFromRegistry(key, "Source", &config.Source)

	loadIntFromRegistry(key, "TimeoutSeconds", &config.TimeoutSeconds)

	loadBoolFromRegistry(key, "Debug", &config.Debug)
	loadBoolFromRegistry(key, "Verbose", &config.Verbose)
	loadBoolFromRegistry(key, "CheckOnly", &config.CheckOnly)
	loadBoolFromRegistry(key, "IncludeAllSubFeatures", &config.IncludeAllSubFeatures)
	loadBoolFromRegistry(key, "IncludeManagementTools", &config.IncludeManagementTools)

	return nil
}

// loadStringFromRegistry loads a string value from registry if it exists.
func loadStringFromRegistry(key registry.Key, valueName string, target *string) {
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		*target = val
		log.Printf("CSP: Loaded %s = %s", valueName, val)
	}
}

// loadBoolFromRegistry loads a boolean value from registry if it exists.
// Accepts various formats: "true"/"false", "1"/"0", DWORD 1/0
func loadBoolFromRegistry(key registry.Key, valueName string, target *bool) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.ParseBool(val); parseErr == nil {
			*target = parsed
			log.Printf("CSP: Loaded %s = %t", valueName, parsed)
			return
		}
	}

	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = val != 0
		log.Printf("CSP: Loaded %s = %t", valueName, val != 0)
	}
}

// loadIntFromRegistry loads an integer value from registry if it exists.
func loadIntFromRegistry(key registry.Key, valueName string, target *int) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(val)); parseErr == nil {
			*target = parsed
			log.Printf("CSP: Loaded %s = %d", valueName, parsed)
			return
		}
	}

	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = int(val)
		log.Printf("CSP: Loaded %s = %d", valueName, int(val))
	}
}
