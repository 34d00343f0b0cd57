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

package artifact

import (
	"regexp"
	"strings"
)

// CompileGlob turns a glob pattern into a predicate over a full
// workspace-relative name, per the rules in spec.md §4.4:
//
//   - "**" matches any sequence including path separators, optionally
//     consuming a following "/".
//   - "*" matches any sequence excluding "/".
//   - "?" matches any single non-"/" character.
//   - "." and other regex metacharacters are treated literally.
//   - the match is anchored (full-name equality), not a substring search.
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); {
		switch {
		case i+1 < len(runes) && runes[i] == '*' && runes[i+1] == '*':
			if i+2 < len(runes) && runes[i+2] == '/' {
				b.WriteString("(?:.*/)?")
				i += 3
			} else {
				b.WriteString(".*")
				i += 2
			}
		case runes[i] == '*':
			b.WriteString("[^/]*")
			i++
		case runes[i] == '?':
			b.WriteString("[^/]")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
			i++
		}
	}
	b.WriteString("$")

	return regexp.Compile(b.String())
}

// MatchesGlob compiles pattern and reports whether it matches name. Used
// directly by upload validation (spec.md §4.4) where compiling per call
// is acceptable; the Collector compiles each pattern once per run.
func MatchesGlob(pattern, name string) (bool, error) {
	re, err := CompileGlob(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(name), nil
}
