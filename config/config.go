package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config represents dexlab's toolkit configuration: analysis limits,
// runtime DEX search roots, and output formatting.
type Config struct {
	// Decoder settings
	Decoder struct {
		HeapSeed        uint32 `toml:"heap_seed"`         // PRNG seed for VM heap address allocation
		MallocRetries   int    `toml:"malloc_retries"`    // collision retries before OutOfMemory
		StrictHeader    bool   `toml:"strict_header"`     // strict magic-version check; loaded and saved, but no package reads it
	} `toml:"decoder"`

	// Concrete VM settings
	VM struct {
		MaxStackDepth       int `toml:"max_stack_depth"`       // recursive invocation depth cap
		MaxInstructionsStep int `toml:"max_instructions_step"` // instructions per Start() call
	} `toml:"vm"`

	// Symbolic interpreter settings
	Flow struct {
		MaxIterations int `toml:"max_iterations"` // global tick cap; not read: flow uses its built-in default
		MaxBranches   int `toml:"max_branches"`   // live branch cap; not read: flow uses its built-in default
	} `toml:"flow"`

	// Runtime settings: where to find additional DEXes for method resolution
	Runtime struct {
		DexRoots []string `toml:"dex_roots"` // runtime/library DEX directories; loaded and saved, but nothing scans them
	} `toml:"runtime"`

	// Output settings
	Output struct {
		Format        string `toml:"format"` // "json", "text", "dot" (for graph subgraphs)
		Color         bool   `toml:"color"`
		ConfidenceMin string `toml:"confidence_min"` // lowest xref.ConfidenceLevel to surface; loaded and saved, but no package reads it
	} `toml:"output"`

	// API server settings
	API struct {
		Port           int  `toml:"port"`
		EnableWebsocket bool `toml:"enable_websocket"`
	} `toml:"api"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Decoder.HeapSeed = 0xFFFFFFFF
	cfg.Decoder.MallocRetries = 10
	cfg.Decoder.StrictHeader = false

	cfg.VM.MaxStackDepth = 20
	cfg.VM.MaxInstructionsStep = 1000

	cfg.Flow.MaxIterations = 1000
	cfg.Flow.MaxBranches = 1000

	cfg.Runtime.DexRoots = nil

	cfg.Output.Format = "json"
	cfg.Output.Color = true
	cfg.Output.ConfidenceMin = "Low"

	cfg.API.Port = 8732
	cfg.API.EnableWebsocket = true

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "dexlab")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "dexlab")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// GetLogPath returns the platform-specific log directory path.
func GetLogPath() string {
	var logDir string

	switch runtime.GOOS {
	case "windows":
		logDir = os.Getenv("APPDATA")
		if logDir == "" {
			logDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		logDir = filepath.Join(logDir, "dexlab", "logs")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "logs"
		}
		logDir = filepath.Join(homeDir, ".local", "share", "dexlab", "logs")

	default:
		return "logs"
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return "logs"
	}

	return logDir
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", closeErr)
		}
	}()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
