// Package store wraps the installation repository with token encryption.
// Callers always see plaintext tokens; the repository only ever sees
// ciphertext.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/triagehub/triagehub-backend/internal/crypto"
	"github.com/triagehub/triagehub-backend/internal/models"
	"github.com/triagehub/triagehub-backend/internal/repository"
)

// InstallationStore is the persistent map (plugin, channel) → Installation
// with encryption at rest.
type InstallationStore struct {
	repo   repository.InstallationRepository
	cipher *crypto.TokenCipher
}

// NewInstallationStore builds a store over the given repository and cipher.
func NewInstallationStore(repo repository.InstallationRepository, cipher *crypto.TokenCipher) *InstallationStore {
	return &InstallationStore{repo: repo, cipher: cipher}
}

// Create encrypts tokens, persists the installation, and returns it with
// plaintext tokens intact. Returns repository.ErrAlreadyExists if the
// (plugin, channel) key is taken.
func (s *InstallationStore) Create(ctx context.Context, inst *models.Installation) (*models.Installation, error) {
	enc := *inst
	var err error
	enc.AccessToken, err = s.cipher.Encrypt(inst.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if inst.RefreshToken != "" {
		enc.RefreshToken, err = s.cipher.Encrypt(inst.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	if err := s.repo.Create(ctx, &enc); err != nil {
		return nil, err
	}
	out := *inst
	out.ID = enc.ID
	out.InstalledAt = enc.InstalledAt
	out.LastActive = enc.LastActive
	out.IsActive = enc.IsActive
	return &out, nil
}

// Get returns the installation for (plugin, channel) with decrypted tokens,
// or nil when absent.
func (s *InstallationStore) Get(ctx context.Context, pluginName, channelID string) (*models.Installation, error) {
	inst, err := s.repo.Get(ctx, pluginName, channelID)
	if err != nil {
		return nil, suppressNotFound(err)
	}
	return s.decrypt(inst)
}

// GetActive returns the installation only when it exists and is active;
// an inactive installation behaves as if absent.
func (s *InstallationStore) GetActive(ctx context.Context, pluginName, channelID string) (*models.Installation, error) {
	inst, err := s.Get(ctx, pluginName, channelID)
	if err != nil || inst == nil || !inst.IsActive {
		return nil, err
	}
	return inst, nil
}

// GetByID returns the installation with the given surrogate id, or nil.
func (s *InstallationStore) GetByID(ctx context.Context, id int64) (*models.Installation, error) {
	inst, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, suppressNotFound(err)
	}
	return s.decrypt(inst)
}

// Update applies a partial update, encrypting any token fields. Returns the
// updated installation with plaintext tokens, or nil when absent.
func (s *InstallationStore) Update(ctx context.Context, pluginName, channelID string, up models.InstallationUpdate) (*models.Installation, error) {
	if up.AccessToken != nil {
		ct, err := s.cipher.Encrypt(*up.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt access token: %w", err)
		}
		up.AccessToken = &ct
	}
	if up.RefreshToken != nil {
		ct, err := s.cipher.Encrypt(*up.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
		up.RefreshToken = &ct
	}
	inst, err := s.repo.Update(ctx, pluginName, channelID, up)
	if err != nil {
		return nil, suppressNotFound(err)
	}
	return s.decrypt(inst)
}

// Delete hard-deletes the installation so no token material remains.
func (s *InstallationStore) Delete(ctx context.Context, pluginName, channelID string) (bool, error) {
	return s.repo.Delete(ctx, pluginName, channelID)
}

// ListForPlugin returns all installations of one plugin with decrypted tokens.
func (s *InstallationStore) ListForPlugin(ctx context.Context, pluginName string, activeOnly bool) ([]*models.Installation, error) {
	rows, err := s.repo.ListForPlugin(ctx, pluginName, activeOnly)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(rows)
}

// ListAll returns every installation with decrypted tokens.
func (s *InstallationStore) ListAll(ctx context.Context, activeOnly bool) ([]*models.Installation, error) {
	rows, err := s.repo.ListAll(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(rows)
}

func (s *InstallationStore) decrypt(inst *models.Installation) (*models.Installation, error) {
	out := *inst
	var err error
	out.AccessToken, err = s.cipher.Decrypt(inst.AccessToken)
	if err != nil {
		return nil, err
	}
	if inst.RefreshToken != "" {
		out.RefreshToken, err = s.cipher.Decrypt(inst.RefreshToken)
		if err != nil {
			return nil, err
		}
	}
	return &out, nil
}

func (s *InstallationStore) decryptAll(rows []*models.Installation) ([]*models.Installation, error) {
	out := make([]*models.Installation, 0, len(rows))
	for _, inst := range rows {
		dec, err := s.decrypt(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, dec)
	}
	return out, nil
}

func suppressNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
