/*
Copyright 2025 LightCI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package workspace is the Workspace Manager: it creates and tears down
// the per-run scratch directory the Command Executor checks out source
// into and runs local steps within.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Manager roots every workspace under a single configured directory,
// defaulting to /tmp/lightci/workspaces per spec.md §6.
type Manager struct {
	root string
}

func NewManager(root string) *Manager {
	if root == "" {
		root = "/tmp/lightci/workspaces"
	}
	return &Manager{root: root}
}

// Create makes a fresh, empty directory for runID and returns its path.
// Invariant: the workspace tree is owned by exactly one run (spec.md §5).
func (m *Manager) Create(runID string) (string, error) {
	path := filepath.Join(m.root, runID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create %s: %w", path, err)
	}
	return path, nil
}

// Path returns the would-be workspace directory for runID without
// creating it.
func (m *Manager) Path(runID string) string {
	return filepath.Join(m.root, runID)
}

// Remove deletes a run's workspace tree. Called on every exit path
// (success, failure, timeout, cancel); errors are logged and swallowed
// by the caller per spec.md §7, not returned as fatal.
func (m *Manager) Remove(runID string) error {
	path := filepath.Join(m.root, runID)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("workspace: remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a run's workspace directory is still present,
// used by the property test in SPEC_FULL.md §8 (property 2).
func (m *Manager) Exists(runID string) bool {
	_, err := os.Stat(filepath.Join(m.root, runID))
	return err == nil
}
