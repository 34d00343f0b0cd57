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

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightci/lightci/internal/config"
)

func TestNewBuildsLoggerWithDefaults(t *testing.T) {
	logger, err := New(config.LogConfig{})
	require.NoError(t, err)
	assert.False(t, logger.GetSink() == nil)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "deafening"})
	assert.Error(t, err)
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	_, err := New(config.LogConfig{Encoding: "xml"})
	assert.Error(t, err)
}

func TestNewWritesToConfiguredFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.log")

	logger, err := New(config.LogConfig{
		Level:      "debug",
		Encoding:   "json",
		FilePath:   path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	require.NoError(t, err)

	logger.Info("startup complete", "component", "orchestrator")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "startup complete")
	assert.Contains(t, string(data), "orchestrator")
}

func TestNewConsoleEncodingAcceptsEmptyFilePath(t *testing.T) {
	logger, err := New(config.LogConfig{Encoding: "console"})
	require.NoError(t, err)
	logger.Info("no file sink configured")
}
