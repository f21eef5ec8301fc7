// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

type testServerConfig struct {
	Port        int           `koanf:"port"`
	ReadTimeout time.Duration `koanf:"read_timeout"`
}

type testDatabaseConfig struct {
	Path string `koanf:"path"`
}

type testLoggingConfig struct {
	Level string `koanf:"level"`
}

type testConfig struct {
	Server   testServerConfig   `koanf:"server"`
	Database testDatabaseConfig `koanf:"database"`
	Logging  testLoggingConfig  `koanf:"logging"`
}

func testDefaults() testConfig {
	return testConfig{
		Server: testServerConfig{
			Port:        8080,
			ReadTimeout: 15 * time.Second,
		},
		Database: testDatabaseConfig{
			Path: "stepflow.db",
		},
		Logging: testLoggingConfig{
			Level: "info",
		},
	}
}

func loadInto(t *testing.T, loader *Loader, cfg *testConfig) {
	t.Helper()
	if err := loader.Unmarshal("", cfg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
}

func TestLoader_StructDefaults(t *testing.T) {
	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), ""); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	var cfg testConfig
	loadInto(t, loader, &cfg)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "stepflow.db" {
		t.Errorf("expected database path stepflow.db, got %s", cfg.Database.Path)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected level info, got %s", cfg.Logging.Level)
	}
}

func TestLoader_ConfigFileOverridesDefaults(t *testing.T) {
	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), filepath.Join("testdata", "test_config.yaml")); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	var cfg testConfig
	loadInto(t, loader, &cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090 from config file, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected read_timeout 30s from config file, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Path != "/tmp/stepflow-test.db" {
		t.Errorf("expected database path from config file, got %s", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug from config file, got %s", cfg.Logging.Level)
	}
}

func TestLoader_EnvVarsOverrideConfigFile(t *testing.T) {
	t.Setenv("STEPFLOW_TEST__SERVER__PORT", "7070")
	t.Setenv("STEPFLOW_TEST__LOGGING__LEVEL", "warn")

	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), filepath.Join("testdata", "test_config.yaml")); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	var cfg testConfig
	loadInto(t, loader, &cfg)

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070 from env var, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected level warn from env var, got %s", cfg.Logging.Level)
	}
	// File value survives where no env override exists.
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected read_timeout 30s from config file, got %v", cfg.Server.ReadTimeout)
	}
}

func TestLoader_EnvVarUnderscorePreserved(t *testing.T) {
	// Single underscores stay inside the key; only double underscores nest.
	t.Setenv("STEPFLOW_TEST__SERVER__READ_TIMEOUT", "45s")

	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), ""); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	var cfg testConfig
	loadInto(t, loader, &cfg)

	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Errorf("expected read_timeout 45s from env var, got %v", cfg.Server.ReadTimeout)
	}
}

func TestLoader_MissingConfigFileFails(t *testing.T) {
	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), "nonexistent.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoader_NoConfigFileOK(t *testing.T) {
	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), ""); err != nil {
		t.Fatalf("LoadWithDefaults should succeed without config file: %v", err)
	}
}

func TestLoader_FlagsOverrideEnvVars(t *testing.T) {
	t.Setenv("STEPFLOW_TEST__SERVER__PORT", "7070")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "server port")
	if err := flags.Parse([]string{"--port=5050"}); err != nil {
		t.Fatalf("flags.Parse failed: %v", err)
	}

	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), ""); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if err := loader.LoadFlags(flags, map[string]string{"port": "server.port"}); err != nil {
		t.Fatalf("LoadFlags failed: %v", err)
	}

	var cfg testConfig
	loadInto(t, loader, &cfg)

	if cfg.Server.Port != 5050 {
		t.Errorf("expected port 5050 from flag, got %d", cfg.Server.Port)
	}
}

func TestLoader_UnsetFlagsDoNotOverride(t *testing.T) {
	t.Setenv("STEPFLOW_TEST__SERVER__PORT", "7070")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "server port")
	if err := flags.Parse(nil); err != nil {
		t.Fatalf("flags.Parse failed: %v", err)
	}

	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), ""); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if err := loader.LoadFlags(flags, map[string]string{"port": "server.port"}); err != nil {
		t.Fatalf("LoadFlags failed: %v", err)
	}

	var cfg testConfig
	loadInto(t, loader, &cfg)

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070 from env var, got %d", cfg.Server.Port)
	}
}

func TestLoader_Set(t *testing.T) {
	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), ""); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if err := loader.Set("server.port", 6060); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var cfg testConfig
	loadInto(t, loader, &cfg)

	if cfg.Server.Port != 6060 {
		t.Errorf("expected port 6060 from Set, got %d", cfg.Server.Port)
	}
}

func TestLoader_Raw(t *testing.T) {
	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), ""); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	raw := loader.Raw()
	server, ok := raw["server"].(map[string]any)
	if !ok {
		t.Fatalf("expected server key in config map, got: %v", raw)
	}
	if server["port"] != 8080 {
		t.Errorf("expected port 8080 in Raw(), got %v", server["port"])
	}
}

func TestLoader_DumpYAML(t *testing.T) {
	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), ""); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	var b strings.Builder
	if err := loader.DumpYAML(&b); err != nil {
		t.Fatalf("DumpYAML failed: %v", err)
	}
	if !strings.Contains(b.String(), "port: 8080") {
		t.Errorf("expected dumped YAML to carry port, got:\n%s", b.String())
	}
}

// validatingConfig implements Validator
type validatingConfig struct {
	Server testServerConfig `koanf:"server"`
}

func (c *validatingConfig) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	return nil
}

func TestLoader_UnmarshalAndValidate(t *testing.T) {
	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), ""); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	var cfg validatingConfig
	if err := loader.UnmarshalAndValidate("", &cfg); err != nil {
		t.Fatalf("UnmarshalAndValidate failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
}

func TestLoader_UnmarshalAndValidate_Fails(t *testing.T) {
	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.Set("server.port", 0); err != nil {
		t.Fatalf("loader.Set failed: %v", err)
	}

	var cfg validatingConfig
	if err := loader.UnmarshalAndValidate("", &cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoader_SubtreeUnmarshal(t *testing.T) {
	loader := NewLoader("STEPFLOW_TEST")
	if err := loader.LoadWithDefaults(testDefaults(), ""); err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	var server testServerConfig
	if err := loader.Unmarshal("server", &server); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if server.Port != 8080 {
		t.Errorf("expected port 8080 from subtree, got %d", server.Port)
	}
}
