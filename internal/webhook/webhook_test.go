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
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightci/lightci/internal/domain"
)

type fakeGateway struct {
	pipelines map[string]*domain.Pipeline
}

func (f *fakeGateway) FindPipelineByRepository(_ context.Context, repositoryURL string) (*domain.Pipeline, error) {
	p, ok := f.pipelines[repositoryURL]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

type fakeRunner struct {
	calls []string
}

func (f *fakeRunner) RunPipeline(_ context.Context, pipelineID, branch, commit, triggeredBy string) (string, error) {
	f.calls = append(f.calls, pipelineID+":"+branch+":"+commit+":"+triggeredBy)
	return "run-1", nil
}

func signGitHub(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestGitHubHandlerRoutesMatchingPush(t *testing.T) {
	gw := &fakeGateway{pipelines: map[string]*domain.Pipeline{
		"https://example.com/repo.git": {ID: "p-1", Trigger: domain.TriggerDescriptor{Events: []string{EventPush}}},
	}}
	runner := &fakeRunner{}
	handler := NewGitHubHandler(New(gw, runner))

	body, _ := json.Marshal(map[string]any{
		"ref":   "refs/heads/main",
		"after": "abc123",
		"repository": map[string]string{
			"clone_url": "https://example.com/repo.git",
		},
		"head_commit": map[string]any{
			"author": map[string]string{"name": "alice"},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "p-1:main:abc123:alice", runner.calls[0])
}

func TestGitHubHandlerRejectsInvalidSignature(t *testing.T) {
	gw := &fakeGateway{pipelines: map[string]*domain.Pipeline{
		"https://example.com/repo.git": {ID: "p-1", Trigger: domain.TriggerDescriptor{Secret: "s3cr3t"}},
	}}
	runner := &fakeRunner{}
	handler := NewGitHubHandler(New(gw, runner))

	body, _ := json.Marshal(map[string]any{
		"ref":        "refs/heads/main",
		"after":      "abc123",
		"repository": map[string]string{"clone_url": "https://example.com/repo.git"},
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, runner.calls)
}

func TestGitHubHandlerAcceptsValidSignature(t *testing.T) {
	gw := &fakeGateway{pipelines: map[string]*domain.Pipeline{
		"https://example.com/repo.git": {ID: "p-1", Trigger: domain.TriggerDescriptor{Secret: "s3cr3t"}},
	}}
	runner := &fakeRunner{}
	handler := NewGitHubHandler(New(gw, runner))

	body, _ := json.Marshal(map[string]any{
		"ref":        "refs/heads/main",
		"after":      "abc123",
		"repository": map[string]string{"clone_url": "https://example.com/repo.git"},
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", signGitHub("s3cr3t", body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.calls, 1)
}

func TestGitHubHandlerAcknowledgesUnsupportedEventWith200(t *testing.T) {
	gw := &fakeGateway{pipelines: map[string]*domain.Pipeline{}}
	runner := &fakeRunner{}
	handler := NewGitHubHandler(New(gw, runner))

	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader([]byte("{}")))
	req.Header.Set("X-GitHub-Event", "issues")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not supported")
	assert.Empty(t, runner.calls)
}

func TestGitHubHandlerRejectsNonPostWith4xx(t *testing.T) {
	handler := NewGitHubHandler(New(&fakeGateway{}, &fakeRunner{}))

	req := httptest.NewRequest(http.MethodGet, "/hooks/github", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGitHubHandlerFiltersDisallowedBranch(t *testing.T) {
	gw := &fakeGateway{pipelines: map[string]*domain.Pipeline{
		"https://example.com/repo.git": {
			ID:      "p-1",
			Trigger: domain.TriggerDescriptor{Branches: []string{"release"}},
		},
	}}
	runner := &fakeRunner{}
	handler := NewGitHubHandler(New(gw, runner))

	body, _ := json.Marshal(map[string]any{
		"ref":        "refs/heads/main",
		"after":      "abc123",
		"repository": map[string]string{"clone_url": "https://example.com/repo.git"},
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not supported")
	assert.Empty(t, runner.calls)
}

func TestGitLabHandlerVerifiesToken(t *testing.T) {
	gw := &fakeGateway{pipelines: map[string]*domain.Pipeline{
		"https://gitlab.example.com/repo.git": {ID: "p-2", Trigger: domain.TriggerDescriptor{Secret: "tok"}},
	}}
	runner := &fakeRunner{}
	handler := NewGitLabHandler(New(gw, runner))

	body, _ := json.Marshal(map[string]any{
		"object_kind": "push",
		"ref":         "refs/heads/main",
		"after":       "def456",
		"project":     map[string]string{"git_http_url": "https://gitlab.example.com/repo.git"},
		"user_name":   "bob",
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/gitlab", bytes.NewReader(body))
	req.Header.Set("X-Gitlab-Event", "Push Hook")
	req.Header.Set("X-Gitlab-Token", "wrong")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/hooks/gitlab", bytes.NewReader(body))
	req2.Header.Set("X-Gitlab-Event", "Push Hook")
	req2.Header.Set("X-Gitlab-Token", "tok")
	rec2 := httptest.NewRecorder()

	handler.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "p-2:main:def456:bob", runner.calls[0])
}

func TestGitLabHandlerRejectsMissingTokenWhenSecretConfigured(t *testing.T) {
	gw := &fakeGateway{pipelines: map[string]*domain.Pipeline{
		"https://gitlab.example.com/repo.git": {ID: "p-2", Trigger: domain.TriggerDescriptor{Secret: "tok"}},
	}}
	runner := &fakeRunner{}
	handler := NewGitLabHandler(New(gw, runner))

	body, _ := json.Marshal(map[string]any{
		"object_kind": "push",
		"ref":         "refs/heads/main",
		"after":       "def456",
		"project":     map[string]string{"git_http_url": "https://gitlab.example.com/repo.git"},
		"user_name":   "bob",
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/gitlab", bytes.NewReader(body))
	req.Header.Set("X-Gitlab-Event", "Push Hook")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, runner.calls)
}

func TestGitHubHandlerRejectsMissingSignatureWhenSecretConfigured(t *testing.T) {
	gw := &fakeGateway{pipelines: map[string]*domain.Pipeline{
		"https://example.com/repo.git": {ID: "p-1", Trigger: domain.TriggerDescriptor{Secret: "s3cr3t"}},
	}}
	runner := &fakeRunner{}
	handler := NewGitHubHandler(New(gw, runner))

	body, _ := json.Marshal(map[string]any{
		"ref":        "refs/heads/main",
		"after":      "abc123",
		"repository": map[string]string{"clone_url": "https://example.com/repo.git"},
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, runner.calls)
}

func TestBitbucketHandlerRoutesPush(t *testing.T) {
	gw := &fakeGateway{pipelines: map[string]*domain.Pipeline{
		"https://bitbucket.org/owner/repo.git": {ID: "p-3"},
	}}
	runner := &fakeRunner{}
	handler := NewBitbucketHandler(New(gw, runner))

	body, _ := json.Marshal(map[string]any{
		"push": map[string]any{
			"changes": []map[string]any{
				{"new": map[string]any{"name": "main", "target": map[string]string{"hash": "ghi789"}}},
			},
		},
		"repository": map[string]any{
			"links": map[string]any{
				"clone": []map[string]string{
					{"name": "https", "href": "https://bitbucket.org/owner/repo.git"},
				},
			},
		},
		"actor": map[string]string{"display_name": "carol"},
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/bitbucket", bytes.NewReader(body))
	req.Header.Set("X-Event-Key", "repo:push")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "p-3:main:ghi789:carol", runner.calls[0])
}

func TestAdapterReturnsNoMatchingPipeline(t *testing.T) {
	gw := &fakeGateway{pipelines: map[string]*domain.Pipeline{}}
	runner := &fakeRunner{}
	a := New(gw, runner)

	_, err := a.Route(context.Background(), Event{RepositoryURL: "https://example.com/missing.git"})
	require.Error(t, err)
}
