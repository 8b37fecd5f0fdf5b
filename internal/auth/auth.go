// Package auth manages the credentialed users allowed to mint tokens.
package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"vrac/internal/logging"
	"vrac/internal/store"
)

// Service hashes and verifies basic-auth credentials against the store.
type Service struct {
	store  store.Store
	writes *store.WriteSerializer
}

func NewService(st store.Store, writes *store.WriteSerializer) *Service {
	return &Service{store: st, writes: writes}
}

// CreateUser stores a bcrypt hash for the given username.
func (s *Service) CreateUser(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.writes.With(func() error {
		return s.store.CreateUser(ctx, username, string(hash))
	})
}

// Verify reports whether the password matches the stored hash for username.
// Unknown users and mismatches are both plain false, not faults.
func (s *Service) Verify(ctx context.Context, username, password string) bool {
	phc, err := s.store.GetUserPHC(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		logging.Internal.Errorw("auth lookup failed", "user", username, "error", err)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(phc), []byte(password)) == nil
}
