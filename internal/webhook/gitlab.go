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

package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// GitLabHandler handles GitLab webhook deliveries.
type GitLabHandler struct {
	adapter *Adapter
}

// NewGitLabHandler constructs a GitLabHandler.
func NewGitLabHandler(adapter *Adapter) *GitLabHandler {
	return &GitLabHandler{adapter: adapter}
}

type gitlabPushEvent struct {
	ObjectKind string `json:"object_kind"`
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Project    struct {
		GitHTTPURL string `json:"git_http_url"`
		GitSSHURL  string `json:"git_ssh_url"`
	} `json:"project"`
	UserName string `json:"user_name"`
}

func (h *GitLabHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}

	eventType := r.Header.Get("X-Gitlab-Event")
	if eventType != "Push Hook" {
		writeNotSupported(w, eventType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var p gitlabPushEvent
	if err := json.Unmarshal(body, &p); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	repositoryURL := firstNonEmpty(p.Project.GitHTTPURL, p.Project.GitSSHURL)
	branch := strings.TrimPrefix(p.Ref, "refs/heads/")

	pipeline, pipelineErr := h.adapter.gw.FindPipelineByRepository(r.Context(), repositoryURL)
	if pipelineErr == nil && pipeline.Trigger.Secret != "" {
		token := r.Header.Get("X-Gitlab-Token")
		if token == "" || token != pipeline.Trigger.Secret {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid webhook token")
			return
		}
	}

	event := Event{
		Provider:      "gitlab",
		Kind:          EventPush,
		RepositoryURL: repositoryURL,
		Branch:        branch,
		Commit:        p.After,
		Author:        p.UserName,
	}

	runID, err := h.adapter.Route(r.Context(), event)
	switch {
	case err == nil:
		writeSuccessResponse(w, "pipeline run "+runID+" created")
	case errors.Is(err, ErrNoMatchingPipeline):
		writeErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrFiltered):
		writeNotSupported(w, event.Kind)
	default:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
}
