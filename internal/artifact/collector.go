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

// Package artifact is the Artifact Collector: it matches a glob pattern
// set against a run's workspace and copies files into a per-run
// artifact tree, per spec.md §4.4.
package artifact

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lightci/lightci/internal/domain"
	"github.com/lightci/lightci/internal/objectstore"
)

// DefaultPatterns is the built-in pattern set unioned with a pipeline's
// configured artifactPolicy.patterns.
var DefaultPatterns = []string{
	"dist/**",
	"build/**",
	"out/**",
	"*.tar.gz",
	"*.zip",
	"package.json",
	"package-lock.json",
	"*.env.example",
	"scripts/**/*.sh",
	"Dockerfile",
	"Dockerfile.*",
	"config/**",
}

// ignorePrefixes excludes these path segments anywhere in a relative
// path from collection, regardless of which pattern matched.
var ignorePrefixes = []string{"node_modules/", ".git/", "coverage/", "tmp/"}

const defaultRetentionDays = 30

// Collector copies files matching a pattern set into an artifacts root
// tree, idempotent per run.
type Collector struct {
	artifactsRoot string
	s3Sink        objectstore.Store
}

func NewCollector(artifactsRoot string) *Collector {
	if artifactsRoot == "" {
		artifactsRoot = "/tmp/lightci/artifacts"
	}
	return &Collector{artifactsRoot: artifactsRoot}
}

// WithS3Sink gives the Collector an additional object-storage
// destination: runs whose artifact policy sets storageKind=s3 have
// every collected file pushed there too, on top of the local tree
// spec.md §4.4 always writes. A nil sink (the default) disables this;
// storageKind=s3 pipelines then keep only the local copy.
func (c *Collector) WithS3Sink(store objectstore.Store) *Collector {
	c.s3Sink = store
	return c
}

// Collect matches policy's patterns (unioned with DefaultPatterns)
// against workspacePath and copies every match into
// <artifactsRoot>/<runId>/<relativePath>. It is a no-op if
// run.Artifacts.Collected is already true.
//
// A per-file copy failure is logged by the caller via the returned
// error list and does not abort collection; a pattern-compile failure
// is likewise skipped rather than fatal, matching spec.md §4.4/§7.
func (c *Collector) Collect(run *domain.PipelineRun, policy domain.ArtifactPolicy, workspacePath string) ([]domain.ArtifactRecord, []error) {
	if run.Artifacts.Collected {
		return nil, nil
	}

	patterns := make([]string, 0, len(DefaultPatterns)+len(policy.Patterns))
	patterns = append(patterns, DefaultPatterns...)
	patterns = append(patterns, policy.Patterns...)

	var regexes []*regexp.Regexp
	var errs []error
	for _, p := range patterns {
		re, err := CompileGlob(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("artifact: compile pattern %q: %w", p, err))
			continue
		}
		regexes = append(regexes, re)
	}

	seen := make(map[string]struct{})
	var records []domain.ArtifactRecord
	var totalSize int64

	walkErr := filepath.Walk(workspacePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workspacePath, path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		rel = filepath.ToSlash(rel)

		if isIgnored(rel) {
			return nil
		}
		if _, dup := seen[rel]; dup {
			return nil
		}
		if !anyMatches(regexes, rel) {
			return nil
		}
		seen[rel] = struct{}{}

		destPath := filepath.Join(c.artifactsRoot, run.ID, filepath.FromSlash(rel))
		if err := copyFile(path, destPath); err != nil {
			errs = append(errs, fmt.Errorf("artifact: copy %s: %w", rel, err))
			return nil
		}

		if c.s3Sink != nil && policy.StorageKind == domain.StorageS3 {
			if err := c.pushToSink(run.ID, rel, destPath, info.Size()); err != nil {
				errs = append(errs, fmt.Errorf("artifact: s3 sink %s: %w", rel, err))
			}
		}

		records = append(records, domain.ArtifactRecord{
			ID:          domain.ArtifactID(run.ID, rel),
			RunID:       run.ID,
			Name:        filepath.Base(rel),
			RelPath:     rel,
			SizeBytes:   info.Size(),
			ContentType: contentTypeFor(rel),
			CreatedAt:   time.Now().UTC(),
		})
		totalSize += info.Size()
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	retention := policy.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}

	run.Artifacts = domain.ArtifactSummary{
		Collected: true,
		Count:     len(records),
		SizeBytes: totalSize,
		BasePath:  filepath.Join(c.artifactsRoot, run.ID),
		ExpiresAt: time.Now().UTC().Add(time.Duration(retention) * 24 * time.Hour),
	}

	return records, errs
}

// pushToSink uploads the already-copied local file under the
// "{runId}/{relPath}" key internal/objectstore's Store interface
// documents.
func (c *Collector) pushToSink(runID, relPath, localPath string, size int64) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.s3Sink.Put(context.Background(), runID+"/"+relPath, f, size)
}

// extraContentTypes fills in extensions mime.TypeByExtension doesn't
// know about on every OS but that show up constantly in build output.
var extraContentTypes = map[string]string{
	".tar.gz": "application/gzip",
	".tgz":    "application/gzip",
	".sh":     "text/x-shellscript",
	".env":    "text/plain",
}

// contentTypeFor derives a MIME type from rel's extension. It returns
// "" when the extension is unrecognized, matching net/http's own
// behavior for unknown types rather than guessing.
func contentTypeFor(rel string) string {
	base := strings.ToLower(filepath.Base(rel))
	for ext, ct := range extraContentTypes {
		if strings.HasSuffix(base, ext) {
			return ct
		}
	}
	if ct := mime.TypeByExtension(filepath.Ext(rel)); ct != "" {
		return strings.SplitN(ct, ";", 2)[0]
	}
	return ""
}

func anyMatches(regexes []*regexp.Regexp, name string) bool {
	for _, re := range regexes {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func isIgnored(relPath string) bool {
	for _, prefix := range ignorePrefixes {
		if strings.HasPrefix(relPath, prefix) || strings.Contains(relPath, "/"+prefix) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
