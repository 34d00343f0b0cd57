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

package parser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightci/lightci/internal/domain"
)

const minimalDoc = `
version: v1
name: web-service
repositoryUrl: https://example.com/web-service.git
defaultBranch: main
steps:
  - name: build
    command: make build
  - name: test
    command: make test
    timeout: 5m
`

func TestParseMinimalDocument(t *testing.T) {
	pipeline, err := Parse([]byte(minimalDoc))
	require.NoError(t, err)

	assert.Equal(t, "web-service", pipeline.Name)
	assert.Equal(t, "main", pipeline.DefaultBranch)
	require.Len(t, pipeline.Steps, 2)
	assert.Equal(t, "build", pipeline.Steps[0].Name)
	assert.Equal(t, domain.RunLocal, pipeline.Steps[0].RunLocation)
	assert.Equal(t, 5*time.Minute, pipeline.Steps[1].Timeout)
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	_, err := Parse([]byte("version: v2\nname: x\nrepositoryUrl: https://example.com/x.git\nsteps:\n  - name: a\n    command: echo\n"))
	assert.Error(t, err)
}

func TestParseRejectsEmptySteps(t *testing.T) {
	_, err := Parse([]byte("version: v1\nname: x\nrepositoryUrl: https://example.com/x.git\nsteps: []\n"))
	assert.ErrorIs(t, err, domain.ErrEmptyStepList)
}

func TestParseRejectsDuplicateStepNames(t *testing.T) {
	doc := `
version: v1
name: x
repositoryUrl: https://example.com/x.git
steps:
  - name: build
    command: make build
  - name: build
    command: make build
`
	_, err := Parse([]byte(doc))
	assert.ErrorIs(t, err, domain.ErrDuplicateStepName)
}

func TestParseRejectsInvalidStepTimeout(t *testing.T) {
	doc := `
version: v1
name: x
repositoryUrl: https://example.com/x.git
steps:
  - name: build
    command: make build
    timeout: "not-a-duration"
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseRejectsInvalidCronExpression(t *testing.T) {
	doc := `
version: v1
name: x
repositoryUrl: https://example.com/x.git
steps:
  - name: build
    command: make build
trigger:
  cron: "not a cron expression"
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseAcceptsValidCronAndTimezone(t *testing.T) {
	doc := `
version: v1
name: x
repositoryUrl: https://example.com/x.git
steps:
  - name: build
    command: make build
trigger:
  cron: "0 3 * * *"
  timezone: "America/New_York"
  events: ["push"]
  branches: ["main"]
`
	pipeline, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", pipeline.Trigger.Cron)
	assert.Equal(t, "America/New_York", pipeline.Trigger.Timezone)
}

func TestParseRejectsS3ArtifactsWithUnknownKind(t *testing.T) {
	doc := `
version: v1
name: x
repositoryUrl: https://example.com/x.git
steps:
  - name: build
    command: make build
artifacts:
  enabled: true
  storageKind: "glacier"
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseRejectsManualDeploymentWithoutInstanceID(t *testing.T) {
	doc := `
version: v1
name: x
repositoryUrl: https://example.com/x.git
steps:
  - name: build
    command: make build
deployment:
  enabled: true
  mode: manual
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseRejectsDeployedStepBeforeDeployStep(t *testing.T) {
	doc := `
version: v1
name: x
repositoryUrl: https://example.com/x.git
steps:
  - name: smoke-test
    command: curl localhost
    runLocation: deployed
`
	_, err := Parse([]byte(doc))
	assert.ErrorIs(t, err, domain.ErrDeployedBeforeDeploy)
}

func TestParseAcceptsDeployedStepAfterDeployStep(t *testing.T) {
	doc := `
version: v1
name: x
repositoryUrl: https://example.com/x.git
steps:
  - name: build
    command: make build
  - name: deploy
    command: make deploy
    isDeployStep: true
  - name: smoke-test
    command: curl localhost
    runLocation: deployed
deployment:
  enabled: true
  mode: automatic
`
	pipeline, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, domain.RunDeployed, pipeline.Steps[2].RunLocation)
}

func TestParseFileReadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalDoc), 0o644))

	pipeline, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "web-service", pipeline.Name)
}

func TestParseFileReturnsErrorForMissingFile(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
