package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

// DuplicateTokenError is returned when a live token already exists for a path.
type DuplicateTokenError struct {
	Path string
}

func (e *DuplicateTokenError) Error() string {
	return fmt.Sprintf("a token already exists for path %q", e.Path)
}

// TokenStatus is the lifecycle state of a token, stored as text.
type TokenStatus string

const (
	TokenFresh   TokenStatus = "FRESH"
	TokenUsed    TokenStatus = "USED"
	TokenDeleted TokenStatus = "DELETED"
)

// ParseTokenStatus is the single codec between stored text and TokenStatus.
func ParseTokenStatus(s string) (TokenStatus, error) {
	switch TokenStatus(s) {
	case TokenFresh, TokenUsed, TokenDeleted:
		return TokenStatus(s), nil
	}
	return "", fmt.Errorf("unknown token status %q", s)
}

// UploadStatus tracks whether a file's bytes have been fully flushed to disk.
type UploadStatus string

const (
	UploadStarted   UploadStatus = "STARTED"
	UploadCompleted UploadStatus = "COMPLETED"
)

func ParseUploadStatus(s string) (UploadStatus, error) {
	switch UploadStatus(s) {
	case UploadStarted, UploadCompleted:
		return UploadStatus(s), nil
	}
	return "", fmt.Errorf("unknown upload status %q", s)
}

// Token grants bounded-time, bounded-size upload-then-download access to a
// virtual folder addressed by Path.
type Token struct {
	ID         int64
	Path       string
	Status     TokenStatus
	MaxSizeMiB *int64

	CreatedAt      time.Time
	TokenExpiresAt time.Time
	// ContentExpiresAt is nil until the token is consumed; it is then fixed
	// to consumption time + ContentExpiresAfterHours and never recomputed.
	ContentExpiresAt         *time.Time
	ContentExpiresAfterHours *int64
	DeletedAt                *time.Time
}

// CreateToken is the input for minting a new token.
type CreateToken struct {
	Path           string
	MaxSizeMiB     *int64
	TokenExpiresAt time.Time
	// ContentExpiresAfter is truncated to whole hours when persisted, for
	// compatibility with existing databases.
	ContentExpiresAfter *time.Duration
}

// File is one uploaded blob owned by a token.
type File struct {
	ID          int64
	TokenID     int64
	Name        string
	Path        string
	ContentType string
	SizeBytes   *int64

	CreatedAt    time.Time
	DeletedAt    *time.Time
	UploadStatus UploadStatus
}

// CreateFile registers a file row before any bytes are streamed.
type CreateFile struct {
	TokenID     int64
	Name        string
	Path        string
	ContentType string
}

// TokenFiles pairs an expired token with every file row it owns.
type TokenFiles struct {
	Token Token
	Files []*File
}

// Store is the single source of truth for token, file and credential state.
type Store interface {
	// CreateToken atomically checks that no live token exists for the path
	// and inserts a Fresh one. Returns *DuplicateTokenError on conflict.
	CreateToken(ctx context.Context, tok CreateToken) (*Token, error)
	// GetValidToken returns the live token for a path, or ErrNotFound.
	GetValidToken(ctx context.Context, path string) (*Token, error)
	// ConsumeToken flips a Fresh token to Used and fixes its content
	// deadline. Consuming a non-Fresh token is a no-op.
	ConsumeToken(ctx context.Context, tok *Token) error

	CreateFile(ctx context.Context, f CreateFile) (*File, error)
	CompleteUpload(ctx context.Context, fileID int64, sizeBytes int64) error
	// AbortUpload removes a Started row whose byte stream never began.
	AbortUpload(ctx context.Context, fileID int64) error
	ListCompletedFiles(ctx context.Context, tok *Token) ([]*File, error)
	GetFile(ctx context.Context, tok *Token, fileID int64) (*File, error)

	// FindExpiredFiles returns, for every token whose content deadline has
	// passed and which is not yet marked deleted, all of its file rows.
	FindExpiredFiles(ctx context.Context) ([]TokenFiles, error)
	// MarkTokensExpiredAndGetPaths flips every live token past either
	// deadline to Deleted in one transaction and returns their paths.
	MarkTokensExpiredAndGetPaths(ctx context.Context) ([]string, error)
	// DeleteFilesForTokens marks the files and tokens deleted and returns
	// the number of file rows marked.
	DeleteFilesForTokens(ctx context.Context, tokenIDs []int64) (int64, error)

	CreateUser(ctx context.Context, username, phc string) error
	// GetUserPHC returns the stored password hash for a user, or ErrNotFound.
	GetUserPHC(ctx context.Context, username string) (string, error)

	Close() error
}
