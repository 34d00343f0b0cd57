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

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineValidateRejectsEmptySteps(t *testing.T) {
	p := &Pipeline{}
	assert.ErrorIs(t, p.Validate(), ErrEmptyStepList)
}

func TestPipelineValidateRejectsMissingStepName(t *testing.T) {
	p := &Pipeline{Steps: []Step{{Command: "echo hi"}}}
	assert.ErrorIs(t, p.Validate(), ErrStepNameRequired)
}

func TestPipelineValidateRejectsDuplicateStepName(t *testing.T) {
	p := &Pipeline{Steps: []Step{
		{Name: "build", Command: "make build"},
		{Name: "build", Command: "make build"},
	}}
	assert.ErrorIs(t, p.Validate(), ErrDuplicateStepName)
}

func TestPipelineValidateRejectsDeployedStepBeforeAnyDeployStep(t *testing.T) {
	p := &Pipeline{Steps: []Step{
		{Name: "smoke-test", Command: "curl", RunLocation: RunDeployed},
	}}
	assert.ErrorIs(t, p.Validate(), ErrDeployedBeforeDeploy)
}

func TestPipelineValidateAcceptsDeployedStepAfterDeployStep(t *testing.T) {
	p := &Pipeline{Steps: []Step{
		{Name: "build", Command: "make build", RunLocation: RunLocal},
		{Name: "deploy", Command: "make deploy", RunLocation: RunLocal, IsDeployStep: true},
		{Name: "smoke-test", Command: "curl", RunLocation: RunDeployed},
	}}
	assert.NoError(t, p.Validate())
}

func TestPipelineValidateAcceptsWellFormedPipeline(t *testing.T) {
	p := &Pipeline{Steps: []Step{
		{Name: "build", Command: "make build"},
		{Name: "test", Command: "make test"},
	}}
	assert.NoError(t, p.Validate())
}

func TestStepByNameFindsStep(t *testing.T) {
	p := &Pipeline{Steps: []Step{{Name: "build", Command: "make build"}}}

	step, ok := p.StepByName("build")
	assert.True(t, ok)
	assert.Equal(t, "make build", step.Command)

	_, ok = p.StepByName("missing")
	assert.False(t, ok)
}

func TestTriggerDescriptorAllowsEventDefaultsToAllowAll(t *testing.T) {
	var trigger TriggerDescriptor
	assert.True(t, trigger.AllowsEvent("push"))
}

func TestTriggerDescriptorAllowsEventHonorsAllowList(t *testing.T) {
	trigger := TriggerDescriptor{Events: []string{"push"}}
	assert.True(t, trigger.AllowsEvent("push"))
	assert.False(t, trigger.AllowsEvent("pull_request"))
}

func TestTriggerDescriptorAllowsBranchHonorsAllowList(t *testing.T) {
	trigger := TriggerDescriptor{Branches: []string{"main"}}
	assert.True(t, trigger.AllowsBranch("main"))
	assert.False(t, trigger.AllowsBranch("feature/x"))
}
