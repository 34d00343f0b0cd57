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

package sshkeys

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightci/lightci/internal/domain"
)

type fakeGateway struct {
	keys     map[string]domain.SshKey
	metadata map[string]map[string]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{keys: map[string]domain.SshKey{}, metadata: map[string]map[string]string{}}
}

func (f *fakeGateway) CreateSSHKey(_ context.Context, k *domain.SshKey) error {
	f.keys[k.ID] = *k
	return nil
}

func (f *fakeGateway) FindSSHKey(_ context.Context, id string) (*domain.SshKey, error) {
	k, ok := f.keys[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &k, nil
}

func (f *fakeGateway) ListSSHKeys(_ context.Context, ownerID string) ([]domain.SshKey, error) {
	var out []domain.SshKey
	for _, k := range f.keys {
		if k.OwnerID == ownerID {
			out = append(out, k.Redacted())
		}
	}
	return out, nil
}

func (f *fakeGateway) UpdateAutoDeploymentMetadata(_ context.Context, id string, metadata map[string]string) error {
	f.metadata[id] = metadata
	return nil
}

func TestGenerateStoresRedactedRecordAndReturnsAuthorizedKey(t *testing.T) {
	gw := newFakeGateway()
	store := NewStore(gw)

	key, authorizedKey, err := store.Generate(context.Background(), "deploy-key", "owner-1")
	require.NoError(t, err)
	assert.Empty(t, key.PrivateKey)
	assert.True(t, strings.HasPrefix(authorizedKey, "ssh-rsa "))

	full, err := store.Lookup(context.Background(), key.ID)
	require.NoError(t, err)
	assert.Contains(t, full.PrivateKey, "BEGIN RSA PRIVATE KEY")
}

func TestListRedactsPrivateKey(t *testing.T) {
	gw := newFakeGateway()
	store := NewStore(gw)

	_, _, err := store.Generate(context.Background(), "k1", "owner-1")
	require.NoError(t, err)

	keys, err := store.List(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].PrivateKey)
}

func TestAssociateRecordsMetadata(t *testing.T) {
	gw := newFakeGateway()
	store := NewStore(gw)

	require.NoError(t, store.Associate(context.Background(), "ad-1", "lightci-abc"))
	assert.Equal(t, "lightci-abc", gw.metadata["ad-1"]["sshKeyPairName"])
}
