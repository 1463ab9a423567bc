// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config provides runtime configuration for the register core.
//
// Defaults are embedded so a deployment with no config file still gets
// safe limits; a YAML file passed to Load overrides them field by
// field.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/risquanter/register/services/register/tree"
)

// MaxConfigFileSize caps config files at 1 MiB. Anything larger is
// rejected rather than parsed.
const MaxConfigFileSize = 1024 * 1024

//go:embed register.yaml
var defaultConfigYAML []byte

// ErrInvalidConfig indicates a configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// SimulationConfig bounds Monte Carlo runs.
type SimulationConfig struct {
	// DefaultTrialCount is used for trees without their own count.
	DefaultTrialCount int `yaml:"default_trial_count"`

	// MaxTrialCount is the largest count accepted from a snapshot.
	MaxTrialCount int `yaml:"max_trial_count"`
}

// TreeConfig bounds index construction.
type TreeConfig struct {
	// MaxNodes caps nodes per tree.
	MaxNodes int `yaml:"max_nodes"`

	// MaxDepth caps the longest root-to-leaf path.
	MaxDepth int `yaml:"max_depth"`
}

// ResolverConfig bounds batch resolution.
type ResolverConfig struct {
	// BatchConcurrency bounds parallel fan-out in ResolveAll.
	BatchConcurrency int `yaml:"batch_concurrency"`
}

// Config is the register core's runtime configuration.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Tree       TreeConfig       `yaml:"tree"`
	Resolver   ResolverConfig   `yaml:"resolver"`
}

// Default returns the embedded default configuration.
func Default() *Config {
	cfg := &Config{}
	// The embedded file is validated by tests; a parse failure here is
	// a build defect, not a runtime condition.
	if err := yaml.Unmarshal(defaultConfigYAML, cfg); err != nil {
		panic(fmt.Sprintf("embedded register.yaml is invalid: %v", err))
	}
	return cfg
}

// Load reads a YAML config file over the embedded defaults: fields the
// file omits keep their default values.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)",
			ErrInvalidConfig, path, info.Size(), MaxConfigFileSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every limit for internal consistency.
func (c *Config) Validate() error {
	if c.Simulation.DefaultTrialCount <= 0 {
		return fmt.Errorf("%w: default_trial_count must be positive", ErrInvalidConfig)
	}
	if c.Simulation.MaxTrialCount < c.Simulation.DefaultTrialCount {
		return fmt.Errorf("%w: max_trial_count %d below default_trial_count %d",
			ErrInvalidConfig, c.Simulation.MaxTrialCount, c.Simulation.DefaultTrialCount)
	}
	if c.Tree.MaxNodes <= 0 {
		return fmt.Errorf("%w: tree.max_nodes must be positive", ErrInvalidConfig)
	}
	if c.Tree.MaxDepth <= 0 {
		return fmt.Errorf("%w: tree.max_depth must be positive", ErrInvalidConfig)
	}
	if c.Resolver.BatchConcurrency <= 0 {
		return fmt.Errorf("%w: resolver.batch_concurrency must be positive", ErrInvalidConfig)
	}
	return nil
}

// TreeLimits converts the tree section into index build limits.
func (c *Config) TreeLimits() tree.Limits {
	return tree.Limits{MaxNodes: c.Tree.MaxNodes, MaxDepth: c.Tree.MaxDepth}
}
