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

// Package sshkeys is the SSH Key Store: it generates, persists, looks
// up, and associates the cloud-provider key pairs the Deployer uses to
// reach a provisioned VM, per spec.md §3/§4.5.
package sshkeys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/lightci/lightci/internal/domain"
)

const rsaKeyBits = 2048

// Gateway is the narrow persistence surface the Store depends on.
type Gateway interface {
	CreateSSHKey(ctx context.Context, k *domain.SshKey) error
	FindSSHKey(ctx context.Context, id string) (*domain.SshKey, error)
	ListSSHKeys(ctx context.Context, ownerID string) ([]domain.SshKey, error)
	UpdateAutoDeploymentMetadata(ctx context.Context, id string, metadata map[string]string) error
}

// Store wraps the Persistence Gateway with key-generation logic.
type Store struct {
	gw Gateway
}

func NewStore(gw Gateway) *Store {
	return &Store{gw: gw}
}

// Generate creates a new RSA key pair, stores the private key material
// through the Gateway, and returns both the stored record (private key
// redacted) and the OpenSSH-formatted public key for the caller to hand
// to the Instance Provisioner's ImportKeyPair call.
func (s *Store) Generate(ctx context.Context, name, ownerID string) (domain.SshKey, string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return domain.SshKey{}, "", fmt.Errorf("sshkeys: generate key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	pub, err := ssh.NewPublicKey(&priv.PublicKey)
	if err != nil {
		return domain.SshKey{}, "", fmt.Errorf("sshkeys: derive public key: %w", err)
	}
	authorizedKey := string(ssh.MarshalAuthorizedKey(pub))

	key := domain.SshKey{
		ID:          uuid.NewString(),
		Name:        name,
		KeyPairName: fmt.Sprintf("lightci-%s", uuid.NewString()),
		PrivateKey:  string(privPEM),
		OwnerID:     ownerID,
	}

	if err := s.gw.CreateSSHKey(ctx, &key); err != nil {
		return domain.SshKey{}, "", fmt.Errorf("sshkeys: persist key: %w", err)
	}

	return key.Redacted(), authorizedKey, nil
}

// Lookup returns the full key, private material included, for use by
// the Deployer only.
func (s *Store) Lookup(ctx context.Context, id string) (*domain.SshKey, error) {
	return s.gw.FindSSHKey(ctx, id)
}

// List returns every key owned by ownerID with private material redacted.
func (s *Store) List(ctx context.Context, ownerID string) ([]domain.SshKey, error) {
	return s.gw.ListSSHKeys(ctx, ownerID)
}

// Associate records that autoDeploymentID now uses keyPairName, so a
// future recovery (spec.md §4.3.1 step c) can find it without scanning
// the filesystem.
func (s *Store) Associate(ctx context.Context, autoDeploymentID, keyPairName string) error {
	return s.gw.UpdateAutoDeploymentMetadata(ctx, autoDeploymentID, map[string]string{"sshKeyPairName": keyPairName})
}
