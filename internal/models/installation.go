package models

import "time"

// Installation identifies one workspace for one plugin. The composite key
// (PluginName, ChannelID) is unique; ID is a surrogate for references.
//
// AccessToken and RefreshToken hold plaintext only in memory. The repository
// persists ciphertext; the store layer encrypts on write and decrypts on read
// so callers never see ciphertext.
type Installation struct {
	ID           int64             `json:"id" db:"id"`
	PluginName   string            `json:"plugin_name" db:"plugin_name"`
	ChannelID    string            `json:"channel_id" db:"channel_id"`
	AccessToken  string            `json:"-" db:"access_token"`
	RefreshToken string            `json:"-" db:"refresh_token"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"-"`
	InstalledAt  time.Time         `json:"installed_at" db:"installed_at"`
	LastActive   time.Time         `json:"last_active" db:"last_active"`
	IsActive     bool              `json:"is_active" db:"is_active"`
}

// InstallationUpdate is a partial update: nil fields are preserved.
// LastActive is always stamped by the store.
type InstallationUpdate struct {
	AccessToken  *string
	RefreshToken *string
	Metadata     map[string]string
	IsActive     *bool
}
