package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadWithFile_DefaultsWhenFileMissing(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("expected no error loading with no file present: %v", err)
	}
	if cfg.Core.MaxConcurrentFiles != Default().Core.MaxConcurrentFiles {
		t.Errorf("expected default MaxConcurrentFiles, got %d", cfg.Core.MaxConcurrentFiles)
	}
}

func TestLoadWithFile_OverridesFromYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	configDir := filepath.Join(home, ".config", "codeindex")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, configDir, "core:\n  max_concurrent_files: 16\n")

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Core.MaxConcurrentFiles != 16 {
		t.Errorf("expected MaxConcurrentFiles=16 from file, got %d", cfg.Core.MaxConcurrentFiles)
	}
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	configDir := filepath.Join(home, ".config", "codeindex")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(path, []byte("core:\n  max_concurrent_files: 4\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadWithFile("")
	if err == nil {
		t.Fatal("expected error for world-readable config file")
	}
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("core:\n  max_concurrent_files: 4\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadWithFile(path)
	if err == nil {
		t.Fatal("expected error for config path outside allowed directories")
	}
}

func TestEnsureConfigDir_CreatesDirectoryWithOwnerOnlyPerms(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if err := EnsureConfigDir(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(filepath.Join(home, ".config", "codeindex"))
	if err != nil {
		t.Fatalf("expected config dir to exist: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected config dir to be a directory")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Fatalf("expected config dir permissions 0700, got %o", perm)
	}
}
