package auth

import (
	"time"

	"github.com/forest6511/lokivault/pkg/vault"
)

// Session is an unlocked vault.
//
// A session ends on Logout, auto-lock, or a new unlock; afterwards its
// repository reports vault.ErrNotInitialized.
type Session struct {
	ID        string
	StartedAt time.Time

	repo *vault.Repository
}

// Vault returns the unlocked repository.
func (s *Session) Vault() *vault.Repository {
	return s.repo
}
