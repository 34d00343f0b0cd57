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

// Package secrets masks step environment values out of captured command
// output, run logs, and SSH key material before either reaches the
// Persistence Gateway or a log stream subscriber.
package secrets

import (
	"bytes"
	"regexp"
	"sort"
)

const redactedMarker = "***REDACTED***"

// Mask replaces every occurrence of a value in env with redactedMarker,
// case-insensitively, longest value first so a value that is itself a
// substring of another is not left partially visible.
func Mask(output []byte, env map[string]string) []byte {
	if len(output) == 0 || len(env) == 0 {
		return output
	}

	values := make([]string, 0, len(env))
	for _, v := range env {
		if v != "" {
			values = append(values, v)
		}
	}
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })

	masked := output
	for _, v := range values {
		re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(v))
		masked = re.ReplaceAll(masked, []byte(redactedMarker))
	}
	return masked
}

// MaskString is the string-typed convenience wrapper used by the Runner
// when persisting StepResult.Output and PipelineRun.Logs.
func MaskString(output string, env map[string]string) string {
	return string(Mask([]byte(output), env))
}

// HasRedactedContent reports whether output already contains a redaction marker.
func HasRedactedContent(output []byte) bool {
	return bytes.Contains(output, []byte(redactedMarker))
}

// LooksLikeSecret applies heuristic patterns to flag values that should be
// treated as secrets even when not explicitly named in a step's environment
// map, e.g. values recovered onto AutoDeployment metadata during SSH key
// recovery.
func LooksLikeSecret(value string) bool {
	if len(value) < 8 {
		return false
	}
	patterns := []string{
		`^[A-Za-z0-9+/]{40,}={0,2}$`,
		`^[a-f0-9]{32,}$`,
		`^AKIA[0-9A-Z]{16}$`,
		`^-----BEGIN (RSA |OPENSSH |EC )?PRIVATE KEY-----`,
		`^gh[ps]_[a-zA-Z0-9]{36,}$`,
		`^eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+`,
	}
	for _, p := range patterns {
		if matched, _ := regexp.MatchString(p, value); matched {
			return true
		}
	}
	return false
}
