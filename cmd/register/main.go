// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command register simulates a risk tree from a YAML file and prints
// the loss summary for its root.
//
// Usage:
//
//	go run ./cmd/register -tree portfolio.yaml
//	go run ./cmd/register -tree portfolio.yaml -thresholds 10000,100000,1000000
//	go run ./cmd/register -tree portfolio.yaml -config register.yaml -debug
//
// The tree file names nodes by display name; ids are generated on
// load. Example:
//
//	trial_count: 50000
//	root: company
//	nodes:
//	  - name: company
//	    kind: portfolio
//	  - name: ransomware
//	    kind: leaf
//	    parent: company
//	    probability: 0.05
//	    lognormal: {low: 100000, high: 5000000}
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/risquanter/register/pkg/logging"
	"github.com/risquanter/register/services/register/cache"
	"github.com/risquanter/register/services/register/config"
	"github.com/risquanter/register/services/register/id"
	"github.com/risquanter/register/services/register/resolve"
	"github.com/risquanter/register/services/register/risk"
	"github.com/risquanter/register/services/register/sim"
	"github.com/risquanter/register/services/register/tree"
)

// treeFile is the YAML schema for a tree authored by hand. Nodes refer
// to each other by display name; ids are generated on load.
type treeFile struct {
	TrialCount int        `yaml:"trial_count"`
	Root       string     `yaml:"root"`
	Nodes      []nodeFile `yaml:"nodes"`
}

type nodeFile struct {
	Name        string  `yaml:"name"`
	Kind        string  `yaml:"kind"` // "leaf" or "portfolio"
	Parent      string  `yaml:"parent"`
	Probability float64 `yaml:"probability"`

	Lognormal *struct {
		Low  float64 `yaml:"low"`
		High float64 `yaml:"high"`
	} `yaml:"lognormal"`

	Quantiles []struct {
		P    float64 `yaml:"p"`
		Loss float64 `yaml:"loss"`
	} `yaml:"quantiles"`
}

func main() {
	treePath := flag.String("tree", "", "Path to the tree YAML file (required)")
	configPath := flag.String("config", "", "Optional path to a config file overriding the built-in defaults")
	thresholds := flag.String("thresholds", "", "Comma-separated loss thresholds for exceedance output")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *treePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level, Service: "register"})

	if err := run(*treePath, *configPath, *thresholds, logger); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(treePath, configPath, thresholds string, logger *logging.Logger) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	snapshot, err := loadTreeFile(treePath, cfg)
	if err != nil {
		return err
	}

	manager := cache.NewManager(
		cache.WithLimits(cfg.TreeLimits()),
		cache.WithDefaultTrialCount(cfg.Simulation.DefaultTrialCount),
		cache.WithLogger(logger),
	)
	index, err := manager.OnStructureChanged(snapshot.TreeID, snapshot)
	if err != nil {
		return err
	}

	resolver := resolve.NewResolver(manager, sim.NewMonteCarlo(),
		resolve.WithLogger(logger),
		resolve.WithBatchConcurrency(cfg.Resolver.BatchConcurrency),
	)
	result, err := resolver.Resolve(context.Background(), snapshot.TreeID, index.Root())
	if err != nil {
		return err
	}

	printSummary(result, thresholds)
	return nil
}

// loadTreeFile reads a name-addressed tree file and converts it into a
// snapshot with generated node ids.
func loadTreeFile(path string, cfg *config.Config) (*tree.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tree file: %w", err)
	}
	var tf treeFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("tree file %s: %w", path, err)
	}
	if tf.Root == "" {
		return nil, fmt.Errorf("tree file %s: no root named", path)
	}
	if tf.TrialCount > cfg.Simulation.MaxTrialCount {
		return nil, fmt.Errorf("tree file %s: trial_count %d exceeds limit %d",
			path, tf.TrialCount, cfg.Simulation.MaxTrialCount)
	}

	ids := make(map[string]id.NodeID, len(tf.Nodes))
	for _, n := range tf.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("tree file %s: node without a name", path)
		}
		if _, dup := ids[n.Name]; dup {
			return nil, fmt.Errorf("tree file %s: duplicate node name %q", path, n.Name)
		}
		ids[n.Name] = id.NewNodeID()
	}
	rootID, ok := ids[tf.Root]
	if !ok {
		return nil, fmt.Errorf("tree file %s: root %q not among nodes", path, tf.Root)
	}

	snapshot := &tree.Snapshot{
		TreeID:     id.NewTreeID(),
		RootID:     rootID,
		TrialCount: tf.TrialCount,
		Nodes:      make([]risk.Node, 0, len(tf.Nodes)),
	}
	for _, n := range tf.Nodes {
		var parentID id.NodeID
		if n.Parent != "" {
			parentID, ok = ids[n.Parent]
			if !ok {
				return nil, fmt.Errorf("tree file %s: node %q references unknown parent %q",
					path, n.Name, n.Parent)
			}
		}

		switch n.Kind {
		case "portfolio":
			snapshot.Nodes = append(snapshot.Nodes, &risk.Portfolio{
				NodeID: ids[n.Name], DisplayName: n.Name, ParentID: parentID,
			})
		case "leaf":
			dist, err := distributionFor(n)
			if err != nil {
				return nil, fmt.Errorf("tree file %s: node %q: %w", path, n.Name, err)
			}
			snapshot.Nodes = append(snapshot.Nodes, &risk.Leaf{
				NodeID: ids[n.Name], DisplayName: n.Name, ParentID: parentID,
				Probability: n.Probability, Distribution: dist,
			})
		default:
			return nil, fmt.Errorf("tree file %s: node %q has kind %q, want leaf or portfolio",
				path, n.Name, n.Kind)
		}
	}
	return snapshot, nil
}

func distributionFor(n nodeFile) (risk.Distribution, error) {
	switch {
	case n.Lognormal != nil && len(n.Quantiles) > 0:
		return nil, fmt.Errorf("both lognormal and quantiles set")
	case n.Lognormal != nil:
		return &risk.LognormalRange{Low: n.Lognormal.Low, High: n.Lognormal.High}, nil
	case len(n.Quantiles) > 0:
		points := make([]risk.QuantilePoint, 0, len(n.Quantiles))
		for _, q := range n.Quantiles {
			points = append(points, risk.QuantilePoint{Percentile: q.P, Loss: q.Loss})
		}
		return &risk.QuantileSpec{Points: points}, nil
	default:
		return nil, fmt.Errorf("no distribution set")
	}
}

func printSummary(result *risk.Result, thresholds string) {
	fmt.Printf("trials:        %d\n", result.TrialCount)
	fmt.Printf("loss trials:   %d (%.2f%%)\n",
		result.LossTrialCount(),
		100*float64(result.LossTrialCount())/float64(result.TrialCount))
	fmt.Printf("expected loss: %.2f\n", result.Total()/float64(result.TrialCount))

	if thresholds == "" {
		return
	}
	var parsed []float64
	for _, s := range strings.Split(thresholds, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping threshold %q: %v\n", s, err)
			continue
		}
		parsed = append(parsed, v)
	}
	sort.Float64s(parsed)
	fmt.Println("exceedance:")
	for _, threshold := range parsed {
		fmt.Printf("  P(loss >= %.0f) = %.4f\n", threshold, result.Exceedance(threshold))
	}
}
