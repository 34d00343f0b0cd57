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

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightci/lightci/internal/domain"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	steps := []domain.Step{
		{ID: "1", Name: "Source", Command: ""},
		{ID: "2", Name: "Build", Command: "echo hi > out.txt", RunLocation: domain.RunLocal},
	}

	data, err := marshalJSON(steps)
	require.NoError(t, err)

	var out []domain.Step
	require.NoError(t, unmarshalJSON(data, &out))
	assert.Equal(t, steps, out)
}

func TestUnmarshalJSONEmpty(t *testing.T) {
	var out []domain.Step
	require.NoError(t, unmarshalJSON(nil, &out))
	assert.Nil(t, out)
}
