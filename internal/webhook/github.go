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
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// GitHubHandler handles GitHub webhook deliveries.
type GitHubHandler struct {
	adapter *Adapter
}

// NewGitHubHandler constructs a GitHubHandler.
func NewGitHubHandler(adapter *Adapter) *GitHubHandler {
	return &GitHubHandler{adapter: adapter}
}

type githubPushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		CloneURL string `json:"clone_url"`
		SSHURL   string `json:"ssh_url"`
	} `json:"repository"`
	HeadCommit struct {
		Author struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"head_commit"`
}

type githubPullRequestEvent struct {
	Action      string `json:"action"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"pull_request"`
	Repository struct {
		CloneURL string `json:"clone_url"`
		SSHURL   string `json:"ssh_url"`
	} `json:"repository"`
}

// ServeHTTP handles a single GitHub webhook delivery.
func (h *GitHubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType != "push" && eventType != "pull_request" {
		writeNotSupported(w, eventType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	if secret := h.secretFor(r.Context(), body, eventType); secret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if signature == "" || verifyGitHubSignature(signature, body, secret) != nil {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}
	}

	event, ok, err := decodeGitHubEvent(eventType, body)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if !ok {
		writeNotSupported(w, eventType)
		return
	}

	h.route(w, r.Context(), event)
}

// secretFor re-parses just enough of the payload to find the repository
// URL, so the configured trigger secret can be looked up before the
// adapter's own routing decode runs. Cheap at this payload size and
// keeps signature verification independent of event-kind decoding.
func (h *GitHubHandler) secretFor(ctx context.Context, body []byte, eventType string) string {
	event, ok, err := decodeGitHubEvent(eventType, body)
	if err != nil || !ok {
		return ""
	}
	pipeline, err := h.adapter.gw.FindPipelineByRepository(ctx, event.RepositoryURL)
	if err != nil {
		return ""
	}
	return pipeline.Trigger.Secret
}

func (h *GitHubHandler) route(w http.ResponseWriter, ctx context.Context, event Event) {
	runID, err := h.adapter.Route(ctx, event)
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

func decodeGitHubEvent(eventType string, body []byte) (Event, bool, error) {
	switch eventType {
	case "push":
		var p githubPushEvent
		if err := json.Unmarshal(body, &p); err != nil {
			return Event{}, false, err
		}
		branch := strings.TrimPrefix(p.Ref, "refs/heads/")
		if branch == p.Ref {
			return Event{}, false, nil
		}
		return Event{
			Provider:      "github",
			Kind:          EventPush,
			RepositoryURL: firstNonEmpty(p.Repository.CloneURL, p.Repository.SSHURL),
			Branch:        branch,
			Commit:        p.After,
			Author:        p.HeadCommit.Author.Name,
		}, true, nil
	case "pull_request":
		var p githubPullRequestEvent
		if err := json.Unmarshal(body, &p); err != nil {
			return Event{}, false, err
		}
		if p.Action != "opened" && p.Action != "synchronize" && p.Action != "reopened" {
			return Event{}, false, nil
		}
		return Event{
			Provider:      "github",
			Kind:          EventPullRequest,
			RepositoryURL: firstNonEmpty(p.Repository.CloneURL, p.Repository.SSHURL),
			Branch:        p.PullRequest.Head.Ref,
			Commit:        p.PullRequest.Head.SHA,
			Author:        p.PullRequest.User.Login,
		}, true, nil
	default:
		return Event{}, false, nil
	}
}

// verifyGitHubSignature checks the X-Hub-Signature-256 header against
// an HMAC-SHA256 of payload keyed by secret.
func verifyGitHubSignature(signature string, payload []byte, secret string) error {
	parts := strings.SplitN(signature, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return errors.New("invalid signature format")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return errors.New("signature mismatch")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
