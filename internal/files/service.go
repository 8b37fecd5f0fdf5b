package files

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"vrac/internal/store"
)

var ErrNotFound = errors.New("file not found")

// Service exposes the download side of a consumed token. Only Completed,
// non-deleted files are ever visible.
type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// ListFiles returns the completed files owned by tok.
func (s *Service) ListFiles(ctx context.Context, tok *store.Token) ([]*store.File, error) {
	return s.store.ListCompletedFiles(ctx, tok)
}

// GetFile returns a file by id, scoped to tok's ownership. Files belonging
// to other tokens are invisible regardless of the id supplied.
func (s *Service) GetFile(ctx context.Context, tok *store.Token, fileID int64) (*store.File, error) {
	f, err := s.store.GetFile(ctx, tok, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return f, err
}

// Open resolves a file and opens its blob for reading. The path comes from
// the file row, never from the caller.
func (s *Service) Open(ctx context.Context, tok *store.Token, fileID int64) (*store.File, *os.File, error) {
	f, err := s.GetFile(ctx, tok, fileID)
	if err != nil {
		return nil, nil, err
	}
	fd, err := os.Open(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return f, fd, nil
}
