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

package objectstore

import "errors"

var (
	ErrMissingBucket  = errors.New("objectstore: bucket name is required")
	ErrObjectNotFound = errors.New("objectstore: object not found")
	ErrUploadFailed   = errors.New("objectstore: failed to upload object")
	ErrDownloadFailed = errors.New("objectstore: failed to download object")
	ErrDeleteFailed   = errors.New("objectstore: failed to delete object")
	ErrListFailed     = errors.New("objectstore: failed to list objects")
)
