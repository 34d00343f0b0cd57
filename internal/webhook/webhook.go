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

// Package webhook is the Webhook/Trigger Adapter: it normalizes push and
// pull-request events from a supported host, locates the pipeline bound
// to the repository, filters against the pipeline's trigger
// configuration, and invokes the Runner, per spec.md §4.7.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lightci/lightci/internal/domain"
)

const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

// Event is a normalized webhook event, independent of the originating
// provider's wire format.
type Event struct {
	Provider      string
	Kind          string
	RepositoryURL string
	Branch        string
	Commit        string
	Author        string
}

// Gateway is the narrow persistence surface the adapter depends on.
type Gateway interface {
	FindPipelineByRepository(ctx context.Context, repositoryURL string) (*domain.Pipeline, error)
}

// Runner is the subset of internal/runner the adapter drives.
type Runner interface {
	RunPipeline(ctx context.Context, pipelineID, branch, commit, triggeredBy string) (string, error)
}

// ErrNoMatchingPipeline means no pipeline is bound to the event's
// repository URL.
var ErrNoMatchingPipeline = errors.New("webhook: no pipeline bound to repository")

// ErrFiltered means a pipeline was found but its trigger configuration
// does not allow this event kind or branch.
var ErrFiltered = errors.New("webhook: event filtered by trigger configuration")

// Adapter routes normalized events to the Runner.
type Adapter struct {
	gw     Gateway
	runner Runner
}

// New constructs an Adapter.
func New(gw Gateway, runner Runner) *Adapter {
	return &Adapter{gw: gw, runner: runner}
}

// Route locates the pipeline for event.RepositoryURL, filters it against
// the pipeline's trigger configuration, and invokes the Runner. It
// returns the new run id on success.
func (a *Adapter) Route(ctx context.Context, event Event) (string, error) {
	pipeline, err := a.gw.FindPipelineByRepository(ctx, event.RepositoryURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoMatchingPipeline, event.RepositoryURL)
	}

	if !pipeline.Trigger.AllowsEvent(event.Kind) || !pipeline.Trigger.AllowsBranch(event.Branch) {
		return "", ErrFiltered
	}

	triggeredBy := event.Author
	if triggeredBy == "" {
		triggeredBy = event.Provider
	}
	return a.runner.RunPipeline(ctx, pipeline.ID, event.Branch, event.Commit, triggeredBy)
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, map[string]string{"error": message})
}

func writeSuccessResponse(w http.ResponseWriter, message string) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "success", "message": message})
}

func writeNotSupported(w http.ResponseWriter, eventType string) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "not supported", "eventType": eventType})
}
