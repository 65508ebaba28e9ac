// Package config loads the TOML configuration file: global environment,
// per-tool log rotation, the embedded API server, shutdown budget,
// history sink, and the managed process definitions.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clipforge/toolhost/internal/env"
	"github.com/clipforge/toolhost/internal/logger"
	"github.com/clipforge/toolhost/internal/process"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env       []string       `toml:"env" mapstructure:"env"`
	EnvFiles  []string       `toml:"env_files" mapstructure:"env_files"`
	Log       *LogConfig     `toml:"log" mapstructure:"log"`
	Server    ServerConfig   `toml:"server" mapstructure:"server"`
	Shutdown  ShutdownConfig `toml:"shutdown" mapstructure:"shutdown"`
	History   HistoryConfig  `toml:"history" mapstructure:"history"`
	Processes []ProcConfig   `toml:"processes" mapstructure:"processes"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type ShutdownConfig struct {
	Budget    time.Duration `toml:"budget" mapstructure:"budget"`
	PrimaryID string        `toml:"primary_id" mapstructure:"primary_id"`
}

type HistoryConfig struct {
	DSN   string `toml:"dsn" mapstructure:"dsn"`
	Table string `toml:"table" mapstructure:"table"`
}

type ProcConfig struct {
	ID             string        `toml:"id" mapstructure:"id"`
	Command        string        `toml:"command" mapstructure:"command"`
	WorkDir        string        `toml:"workdir" mapstructure:"workdir"`
	Env            []string      `toml:"env" mapstructure:"env"`
	HealthURL      string        `toml:"health_url" mapstructure:"health_url"`
	HealthTimeout  time.Duration `toml:"health_timeout" mapstructure:"health_timeout"`
	AutoRestart    bool          `toml:"autorestart" mapstructure:"autorestart"`
	RestartBackoff time.Duration `toml:"restart_backoff" mapstructure:"restart_backoff"`
	StopGrace      time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	Log            *LogConfig    `toml:"log" mapstructure:"log"`
}

// Load reads and parses the TOML file at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// GlobalEnv merges the configured environment sources into a variable
// set. env_files are applied in order, then the top-level env list
// overrides last. The OS environment is not included here; the
// supervisor layers it underneath at launch.
func (fc *FileConfig) GlobalEnv() (env.Var, error) {
	m := make(env.Var)
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m, nil
}

// Specs converts the [[processes]] blocks into process.Spec values,
// applying top-level log defaults beneath per-process overrides.
func (fc *FileConfig) Specs() ([]process.Spec, error) {
	result := make([]process.Spec, 0, len(fc.Processes))
	seen := make(map[string]bool, len(fc.Processes))
	for _, pc := range fc.Processes {
		if pc.ID == "" {
			return nil, fmt.Errorf("process requires id")
		}
		if seen[pc.ID] {
			return nil, fmt.Errorf("duplicate process id %q", pc.ID)
		}
		seen[pc.ID] = true

		procEnv := make(map[string]string, len(pc.Env))
		for _, kv := range pc.Env {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				procEnv[kv[:i]] = kv[i+1:]
			}
		}

		s := process.Spec{
			ID:             pc.ID,
			Command:        pc.Command,
			WorkDir:        pc.WorkDir,
			Env:            procEnv,
			HealthURL:      pc.HealthURL,
			HealthTimeout:  pc.HealthTimeout,
			AutoRestart:    pc.AutoRestart,
			RestartBackoff: pc.RestartBackoff,
			StopGrace:      pc.StopGrace,
			Log:            fc.logFor(pc),
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("process %q: %w", pc.ID, err)
		}
		result = append(result, s)
	}
	return result, nil
}

// logFor merges top-level log defaults with a per-process override.
func (fc *FileConfig) logFor(pc ProcConfig) logger.Config {
	var cfg logger.Config
	if fc.Log != nil {
		cfg = logger.Config{
			Dir:        fc.Log.Dir,
			MaxSizeMB:  fc.Log.MaxSizeMB,
			MaxBackups: fc.Log.MaxBackups,
			MaxAgeDays: fc.Log.MaxAgeDays,
			Compress:   fc.Log.Compress,
		}
	}
	if pc.Log != nil {
		if pc.Log.Dir != "" {
			cfg.Dir = pc.Log.Dir
		}
		if pc.Log.MaxSizeMB != 0 {
			cfg.MaxSizeMB = pc.Log.MaxSizeMB
		}
		if pc.Log.MaxBackups != 0 {
			cfg.MaxBackups = pc.Log.MaxBackups
		}
		if pc.Log.MaxAgeDays != 0 {
			cfg.MaxAgeDays = pc.Log.MaxAgeDays
		}
		if pc.Log.Compress {
			cfg.Compress = true
		}
	}
	return cfg
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export,
// no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
