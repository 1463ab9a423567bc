// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelString(t *testing.T) {
	cases := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("Level(%d).String() = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("dropped debug")
	logger.Info("dropped info")
	logger.Warn("kept warn")
	logger.Error("kept error")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("entries below level were not filtered: %q", out)
	}
	if !strings.Contains(out, "kept warn") || !strings.Contains(out, "kept error") {
		t.Errorf("entries at or above level missing: %q", out)
	}
}

func TestServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "register", JSON: true, Output: &buf})

	logger.Info("hello", "tree_id", "01ARZ3NDEKTSV4RRFFQ69G5FAV")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["service"] != "register" {
		t.Errorf("service attribute = %v, want register", entry["service"])
	}
	if entry["tree_id"] != "01ARZ3NDEKTSV4RRFFQ69G5FAV" {
		t.Errorf("tree_id attribute = %v", entry["tree_id"])
	}
}

func TestWithAttachesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Output: &buf})

	child := logger.With("tree_id", "t-1")
	child.Info("cache cleared")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["tree_id"] != "t-1" {
		t.Errorf("child logger lost attribute: %v", entry)
	}
}

func TestNopDiscards(t *testing.T) {
	// Must not panic and must not write anywhere visible.
	logger := Nop()
	logger.Error("into the void", "k", "v")
}
