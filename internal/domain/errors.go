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

import "errors"

// Sentinel validation errors for Pipeline/Step invariants. Wrapped with
// %w at call sites so callers can still errors.Is against these.
var (
	ErrEmptyStepList      = errors.New("pipeline: step list must not be empty")
	ErrStepNameRequired   = errors.New("pipeline: step name is required")
	ErrDuplicateStepName  = errors.New("pipeline: duplicate step name")
	ErrDeployedBeforeDeploy = errors.New("pipeline: deployed step scheduled before any deploy step")
)

// Sentinel errors surfaced by the Persistence Gateway.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)
