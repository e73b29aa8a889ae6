// Copyright 2026 The Jcode Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config owns the process-wide viper instance and typed accessors
// for the ambient core's tunables. It never touches working-directory or
// TUI state; that belongs to whatever hosts the core.
package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	global     *Config
	globalOnce sync.Once
)

// Config is a thin wrapper over a viper instance, generalizing the
// singleton-via-sync.Once shape of the teacher's internal/config package
// to the settings the ambient core needs.
type Config struct {
	v *viper.Viper
}

// Ambient holds the adaptive-scheduler and runner tunables from spec §4.4/§4.9.
type Ambient struct {
	Enabled              bool
	MinIntervalMinutes   int
	MaxIntervalMinutes   int
	PauseOnActiveSession bool
	UserBudgetReserve    float64
}

// Safety holds the configured extra auto-allowed action names for the
// tiered tool classification of spec §4.6. permission.Classify uses its
// fixed allowlist and does not read them.
type Safety struct {
	ExtraAutoAllowed []string
}

// Build holds the launcher/install-dir override of spec §4.10/§6.
type Build struct {
	InstallDir string
}

func defaults(v *viper.Viper) {
	v.SetDefault("ambient.enabled", true)
	v.SetDefault("ambient.min_interval_minutes", 5)
	v.SetDefault("ambient.max_interval_minutes", 120)
	v.SetDefault("ambient.pause_on_active_session", true)
	v.SetDefault("ambient.user_budget_reserve", 0.8)
	v.SetDefault("safety.extra_auto_allowed", []string{})
	v.SetDefault("build.install_dir", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("JCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // best-effort: absence of a config file is not an error
	return v
}

// Get returns the process-wide Config, constructing it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		global = &Config{v: newViper()}
	})
	return global
}

// Set installs cfg as the process-wide Config. Used by tests to inject an
// isolated instance rather than mutating the shared one.
func Set(cfg *Config) {
	global = cfg
}

// New builds a standalone Config over a fresh viper instance, suitable for
// tests that want isolation from the process-wide singleton.
func New() *Config {
	return &Config{v: newViper()}
}

// Ambient returns the ambient scheduler/runner settings.
func (c *Config) Ambient() Ambient {
	return Ambient{
		Enabled:              c.v.GetBool("ambient.enabled"),
		MinIntervalMinutes:   c.v.GetInt("ambient.min_interval_minutes"),
		MaxIntervalMinutes:   c.v.GetInt("ambient.max_interval_minutes"),
		PauseOnActiveSession: c.v.GetBool("ambient.pause_on_active_session"),
		UserBudgetReserve:    c.v.GetFloat64("ambient.user_budget_reserve"),
	}
}

// MinInterval returns the ambient minimum wake interval as a Duration.
func (a Ambient) MinInterval() time.Duration {
	return time.Duration(a.MinIntervalMinutes) * time.Minute
}

// MaxInterval returns the ambient maximum wake interval as a Duration.
func (a Ambient) MaxInterval() time.Duration {
	return time.Duration(a.MaxIntervalMinutes) * time.Minute
}

// Safety returns the safety-gate classification overrides.
func (c *Config) Safety() Safety {
	return Safety{ExtraAutoAllowed: c.v.GetStringSlice("safety.extra_auto_allowed")}
}

// Build returns the build-manager/launcher settings.
func (c *Config) Build() Build {
	return Build{InstallDir: c.v.GetString("build.install_dir")}
}
