package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Decoder.HeapSeed != 0xFFFFFFFF {
		t.Errorf("Expected HeapSeed=0xFFFFFFFF, got %#x", cfg.Decoder.HeapSeed)
	}
	if cfg.Decoder.MallocRetries != 10 {
		t.Errorf("Expected MallocRetries=10, got %d", cfg.Decoder.MallocRetries)
	}

	if cfg.VM.MaxStackDepth != 20 {
		t.Errorf("Expected MaxStackDepth=20, got %d", cfg.VM.MaxStackDepth)
	}
	if cfg.VM.MaxInstructionsStep != 1000 {
		t.Errorf("Expected MaxInstructionsStep=1000, got %d", cfg.VM.MaxInstructionsStep)
	}

	if cfg.Flow.MaxIterations != 1000 {
		t.Errorf("Expected MaxIterations=1000, got %d", cfg.Flow.MaxIterations)
	}
	if cfg.Flow.MaxBranches != 1000 {
		t.Errorf("Expected MaxBranches=1000, got %d", cfg.Flow.MaxBranches)
	}

	if cfg.Output.Format != "json" {
		t.Errorf("Expected Format=json, got %s", cfg.Output.Format)
	}
	if cfg.API.Port != 8732 {
		t.Errorf("Expected Port=8732, got %d", cfg.API.Port)
	}
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()

	if path == "" {
		t.Error("GetConfigPath returned empty string")
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("Expected path to end with config.toml, got %s", path)
	}

	switch runtime.GOOS {
	case "windows":
		if !filepath.IsAbs(path) && path != "config.toml" {
			t.Errorf("Expected absolute path on Windows, got %s", path)
		}

	case "darwin", "linux":
		dir := filepath.Dir(path)
		if filepath.Base(dir) != "dexlab" && path != "config.toml" {
			t.Errorf("Expected path in dexlab directory or fallback, got %s", path)
		}
	}
}

func TestGetLogPath(t *testing.T) {
	path := GetLogPath()

	if path == "" {
		t.Error("GetLogPath returned empty string")
	}

	switch runtime.GOOS {
	case "windows":
		if !filepath.IsAbs(path) && path != "logs" {
			t.Errorf("Expected absolute path on Windows, got %s", path)
		}

	case "darwin", "linux":
		if filepath.Base(path) != "logs" {
			t.Errorf("Expected path to end with logs, got %s", path)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test_config.toml")

	cfg := DefaultConfig()
	cfg.Decoder.MallocRetries = 5
	cfg.Decoder.StrictHeader = true
	cfg.VM.MaxStackDepth = 8
	cfg.Output.Color = false
	cfg.Runtime.DexRoots = []string{"/opt/android/platform"}

	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	loaded, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Decoder.MallocRetries != 5 {
		t.Errorf("Expected MallocRetries=5, got %d", loaded.Decoder.MallocRetries)
	}
	if !loaded.Decoder.StrictHeader {
		t.Error("Expected StrictHeader=true")
	}
	if loaded.VM.MaxStackDepth != 8 {
		t.Errorf("Expected MaxStackDepth=8, got %d", loaded.VM.MaxStackDepth)
	}
	if loaded.Output.Color {
		t.Error("Expected Color=false")
	}
	if len(loaded.Runtime.DexRoots) != 1 || loaded.Runtime.DexRoots[0] != "/opt/android/platform" {
		t.Errorf("Expected DexRoots=[/opt/android/platform], got %v", loaded.Runtime.DexRoots)
	}
}

func TestLoadNonExistent(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nonexistent.toml")

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom should not error on non-existent file: %v", err)
	}

	if cfg.Decoder.HeapSeed != 0xFFFFFFFF {
		t.Error("Expected default config when file doesn't exist")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "invalid.toml")

	invalidTOML := `
[vm]
max_stack_depth = "not a number"
`
	if err := os.WriteFile(configPath, []byte(invalidTOML), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	_, err := LoadFrom(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid TOML")
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	tempDir := t.TempDir()

	configPath := filepath.Join(tempDir, "subdir1", "subdir2", "config.toml")

	cfg := DefaultConfig()
	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	dir := filepath.Dir(configPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Error("Parent directories were not created")
	}
}
