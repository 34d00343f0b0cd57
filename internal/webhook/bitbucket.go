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
)

// BitbucketHandler handles Bitbucket webhook deliveries. Bitbucket Cloud
// has no HMAC signature on its payloads; the shared secret, if any, is
// carried as a query parameter the caller is expected to have already
// validated before routing the request here.
type BitbucketHandler struct {
	adapter *Adapter
}

// NewBitbucketHandler constructs a BitbucketHandler.
func NewBitbucketHandler(adapter *Adapter) *BitbucketHandler {
	return &BitbucketHandler{adapter: adapter}
}

type bitbucketPushEvent struct {
	Push struct {
		Changes []struct {
			New struct {
				Name   string `json:"name"`
				Target struct {
					Hash string `json:"hash"`
				} `json:"target"`
			} `json:"new"`
		} `json:"changes"`
	} `json:"push"`
	Repository struct {
		Links struct {
			Clone []struct {
				Name string `json:"name"`
				Href string `json:"href"`
			} `json:"clone"`
		} `json:"links"`
	} `json:"repository"`
	Actor struct {
		DisplayName string `json:"display_name"`
	} `json:"actor"`
}

func (h *BitbucketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}

	eventType := r.Header.Get("X-Event-Key")
	if eventType != "repo:push" {
		writeNotSupported(w, eventType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var p bitbucketPushEvent
	if err := json.Unmarshal(body, &p); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if len(p.Push.Changes) == 0 {
		writeNotSupported(w, eventType)
		return
	}

	change := p.Push.Changes[len(p.Push.Changes)-1]
	var repositoryURL string
	for _, clone := range p.Repository.Links.Clone {
		if clone.Name == "https" {
			repositoryURL = clone.Href
			break
		}
	}
	if repositoryURL == "" && len(p.Repository.Links.Clone) > 0 {
		repositoryURL = p.Repository.Links.Clone[0].Href
	}

	event := Event{
		Provider:      "bitbucket",
		Kind:          EventPush,
		RepositoryURL: repositoryURL,
		Branch:        change.New.Name,
		Commit:        change.New.Target.Hash,
		Author:        p.Actor.DisplayName,
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
