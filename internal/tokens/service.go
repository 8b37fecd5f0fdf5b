package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vrac/internal/logging"
	"vrac/internal/store"
)

// ValidationError reports a malformed token creation request. These are
// caller-correctable and never logged as faults.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Request carries the raw form values for minting a token.
type Request struct {
	Path           string
	MaxSize        string
	ContentExpires string
	ValidFor       string
}

// Service owns the token state machine: create (∅→Fresh), consume
// (Fresh→Used, done by the ingestor), expire (→Deleted, done by the reaper).
type Service struct {
	store  store.Store
	writes *store.WriteSerializer
}

func NewService(st store.Store, writes *store.WriteSerializer) *Service {
	return &Service{store: st, writes: writes}
}

// RequestToken validates the request and mints a Fresh token. Returns
// *ValidationError or *store.DuplicateTokenError for caller-correctable
// failures.
func (s *Service) RequestToken(ctx context.Context, req Request) (*store.Token, error) {
	if req.Path == "" {
		return nil, &ValidationError{Field: "path", Msg: "must not be empty"}
	}

	maxSize, err := ParseMaxSize(req.MaxSize)
	if err != nil {
		return nil, err
	}
	contentExpires, err := ParseContentExpires(req.ContentExpires)
	if err != nil {
		return nil, err
	}
	validFor, err := ParseValidFor(req.ValidFor)
	if err != nil {
		return nil, err
	}

	create := store.CreateToken{
		Path:                req.Path,
		MaxSizeMiB:          maxSize,
		TokenExpiresAt:      time.Now().UTC().Add(validFor),
		ContentExpiresAfter: contentExpires,
	}

	var tok *store.Token
	err = s.writes.With(func() error {
		var err error
		tok, err = s.store.CreateToken(ctx, create)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.Internal.Infow("token created",
		"path", tok.Path, "expires_at", tok.TokenExpiresAt)
	return tok, nil
}

// ResolveForRead returns the live token for a path, or nil when no live
// token exists. A Deleted or expired token is indistinguishable from an
// absent one. Validity is advisory: it may race with an in-flight expire,
// so mutations re-check state under the write serializer.
func (s *Service) ResolveForRead(ctx context.Context, path string) (*store.Token, error) {
	tok, err := s.store.GetValidToken(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}
