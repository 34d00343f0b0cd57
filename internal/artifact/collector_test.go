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

package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightci/lightci/internal/domain"
	"github.com/lightci/lightci/internal/objectstore"
)

func TestCollectCopiesMatchingFiles(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "out.txt"), []byte("hi\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "node_modules", "dep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "node_modules", "dep", "out.txt"), []byte("ignored"), 0o644))

	artifactsRoot := t.TempDir()
	c := NewCollector(artifactsRoot)

	run := &domain.PipelineRun{ID: "run-1"}
	policy := domain.ArtifactPolicy{Enabled: true, Patterns: []string{"*.txt"}}

	records, errs := c.Collect(run, policy, workspace)
	assert.Empty(t, errs)
	require.Len(t, records, 1)
	assert.Equal(t, "out.txt", records[0].Name)
	assert.Equal(t, "text/plain; charset=utf-8", records[0].ContentType)
	assert.True(t, run.Artifacts.Collected)
	assert.Equal(t, 1, run.Artifacts.Count)

	collectedPath := filepath.Join(artifactsRoot, "run-1", "out.txt")
	data, err := os.ReadFile(collectedPath)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/gzip", contentTypeFor("dist/app.tar.gz"))
	assert.Equal(t, "application/zip", contentTypeFor("dist/app.zip"))
	assert.Equal(t, "application/json", contentTypeFor("package.json"))
	assert.Equal(t, "", contentTypeFor("Dockerfile"))
}

func TestCollectPushesToS3SinkWhenPolicyRequestsIt(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "out.txt"), []byte("hi\n"), 0o644))

	sink := objectstore.NewLocalStore(t.TempDir())
	c := NewCollector(t.TempDir()).WithS3Sink(sink)

	run := &domain.PipelineRun{ID: "run-1"}
	policy := domain.ArtifactPolicy{Enabled: true, Patterns: []string{"*.txt"}, StorageKind: domain.StorageS3}

	_, errs := c.Collect(run, policy, workspace)
	assert.Empty(t, errs)

	rc, err := sink.Get(context.Background(), "run-1/out.txt")
	require.NoError(t, err)
	defer rc.Close()
}

func TestCollectSkipsS3SinkWhenPolicyIsLocal(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "out.txt"), []byte("hi\n"), 0o644))

	sinkRoot := t.TempDir()
	sink := objectstore.NewLocalStore(sinkRoot)
	c := NewCollector(t.TempDir()).WithS3Sink(sink)

	run := &domain.PipelineRun{ID: "run-1"}
	policy := domain.ArtifactPolicy{Enabled: true, Patterns: []string{"*.txt"}, StorageKind: domain.StorageLocal}

	_, errs := c.Collect(run, policy, workspace)
	assert.Empty(t, errs)

	_, err := sink.Get(context.Background(), "run-1/out.txt")
	assert.Error(t, err, "a local-kind policy must not push collected files into the s3 sink")
}

func TestCollectIsIdempotent(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "out.txt"), []byte("hi\n"), 0o644))

	c := NewCollector(t.TempDir())
	run := &domain.PipelineRun{ID: "run-1", Artifacts: domain.ArtifactSummary{Collected: true, Count: 5}}

	records, errs := c.Collect(run, domain.ArtifactPolicy{Patterns: []string{"*.txt"}}, workspace)
	assert.Nil(t, records)
	assert.Nil(t, errs)
	assert.Equal(t, 5, run.Artifacts.Count)
}
