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
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// ArtifactRecord describes one file captured by the Artifact Collector.
//
// Invariant: ArtifactRecords are only visible to callers once the owning
// run's ArtifactSummary has Collected=true.
type ArtifactRecord struct {
	ID          string    `json:"id"`
	RunID       string    `json:"runId"`
	Name        string    `json:"name"`
	RelPath     string    `json:"relativePath"`
	SizeBytes   int64     `json:"sizeBytes"`
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ArtifactID deterministically derives an artifact id from a run id and a
// workspace-relative path: "{runId}-{base64(relativePath)}". Decode with
// DecodeArtifactPath.
func ArtifactID(runID, relPath string) string {
	return fmt.Sprintf("%s-%s", runID, base64.RawURLEncoding.EncodeToString([]byte(relPath)))
}

// DecodeArtifactPath recovers the relative path encoded into an artifact
// id for a known runID, by stripping the "{runID}-" prefix and
// base64-decoding the remainder. The base64url alphabet itself contains
// '-', so the split point cannot be recovered from id alone without
// knowing runID; callers that only have the id should use
// HasArtifactRunPrefix to find it first.
func DecodeArtifactPath(id, runID string) (relPath string, ok bool) {
	prefix := runID + "-"
	if !strings.HasPrefix(id, prefix) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(id[len(prefix):])
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// HasArtifactRunPrefix reports whether id was derived from runID by ArtifactID.
func HasArtifactRunPrefix(id, runID string) bool {
	_, ok := DecodeArtifactPath(id, runID)
	return ok
}
