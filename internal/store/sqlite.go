package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"vrac/internal/store/migrations"
)

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath and applies
// pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite supports a single writer; one pooled connection also keeps
	// in-memory databases from silently splitting per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func now() time.Time {
	return time.Now().UTC()
}

const tokenCols = `id, path, status, max_size_mib, created_at, token_expires_at,
	content_expires_at, content_expires_after_hours, deleted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(row scanner) (*Token, error) {
	var t Token
	var status string
	var maxSize, afterHours sql.NullInt64
	var contentExpires, deletedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Path, &status, &maxSize, &t.CreatedAt,
		&t.TokenExpiresAt, &contentExpires, &afterHours, &deletedAt)
	if err != nil {
		return nil, err
	}

	t.Status, err = ParseTokenStatus(status)
	if err != nil {
		return nil, err
	}
	if maxSize.Valid {
		t.MaxSizeMiB = &maxSize.Int64
	}
	if afterHours.Valid {
		t.ContentExpiresAfterHours = &afterHours.Int64
	}
	if contentExpires.Valid {
		t.ContentExpiresAt = &contentExpires.Time
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Time
	}
	return &t, nil
}

const fileCols = `id, token_id, name, path, content_type, size_bytes,
	file_upload_status, created_at, deleted_at`

func scanFile(row scanner) (*File, error) {
	var f File
	var name, contentType sql.NullString
	var size sql.NullInt64
	var status string
	var deletedAt sql.NullTime

	err := row.Scan(&f.ID, &f.TokenID, &name, &f.Path, &contentType, &size,
		&status, &f.CreatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	f.UploadStatus, err = ParseUploadStatus(status)
	if err != nil {
		return nil, err
	}
	f.Name = name.String
	f.ContentType = contentType.String
	if size.Valid {
		f.SizeBytes = &size.Int64
	}
	if deletedAt.Valid {
		f.DeletedAt = &deletedAt.Time
	}
	return &f, nil
}

func (s *SQLiteStore) CreateToken(ctx context.Context, tok CreateToken) (*Token, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	n := now()
	var liveCount int64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM token
		WHERE path = ?
		  AND status IN (?, ?)
		  AND (token_expires_at >= ? OR content_expires_at >= ?)
	`, tok.Path, string(TokenFresh), string(TokenUsed), n, n).Scan(&liveCount)
	if err != nil {
		return nil, err
	}
	if liveCount > 0 {
		return nil, &DuplicateTokenError{Path: tok.Path}
	}

	var afterHours any
	if tok.ContentExpiresAfter != nil {
		// Whole hours only, truncating sub-hour precision. Existing
		// deployments store the duration this way.
		afterHours = int64(tok.ContentExpiresAfter.Hours())
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO token (path, status, max_size_mib, created_at,
			token_expires_at, content_expires_at, content_expires_after_hours, deleted_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, NULL)
	`, tok.Path, string(TokenFresh), nullableInt(tok.MaxSizeMiB), n,
		tok.TokenExpiresAt.UTC(), afterHours)
	if err != nil {
		return nil, err
	}

	// Re-read the inserted row; SQLite has no usable RETURNING through this
	// driver version.
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	inserted, err := scanToken(tx.QueryRowContext(ctx,
		`SELECT `+tokenCols+` FROM token WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s *SQLiteStore) GetValidToken(ctx context.Context, path string) (*Token, error) {
	n := now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenCols+` FROM token
		WHERE path = ?
		  AND status IN (?, ?)
		  AND (token_expires_at >= ? OR content_expires_at >= ?)
	`, path, string(TokenFresh), string(TokenUsed), n, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return found[0], nil
	default:
		// The creation path guarantees at most one live token per path.
		return nil, fmt.Errorf("data corruption: %d live tokens for path %q", len(found), path)
	}
}

func (s *SQLiteStore) ConsumeToken(ctx context.Context, tok *Token) error {
	var contentExpires any
	if tok.ContentExpiresAfterHours != nil {
		contentExpires = now().Add(time.Duration(*tok.ContentExpiresAfterHours) * time.Hour)
	}

	// The status guard makes this a no-op for anything but a Fresh token, so
	// concurrent retries and reaper races are harmless.
	_, err := s.db.ExecContext(ctx, `
		UPDATE token SET status = ?, content_expires_at = ?
		WHERE id = ? AND status = ?
	`, string(TokenUsed), contentExpires, tok.ID, string(TokenFresh))
	return err
}

func (s *SQLiteStore) CreateFile(ctx context.Context, f CreateFile) (*File, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file (token_id, name, path, content_type, size_bytes,
			file_upload_status, created_at, deleted_at)
		VALUES (?, ?, ?, ?, NULL, ?, ?, NULL)
	`, f.TokenID, f.Name, f.Path, f.ContentType, string(UploadStarted), now())
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileCols+` FROM file WHERE id = ?`, id))
}

func (s *SQLiteStore) CompleteUpload(ctx context.Context, fileID int64, sizeBytes int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE file SET file_upload_status = ?, size_bytes = ? WHERE id = ?
	`, string(UploadCompleted), sizeBytes, fileID)
	return err
}

func (s *SQLiteStore) AbortUpload(ctx context.Context, fileID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM file WHERE id = ?`, fileID)
	return err
}

func (s *SQLiteStore) ListCompletedFiles(ctx context.Context, tok *Token) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileCols+` FROM file
		WHERE token_id = ? AND file_upload_status = ? AND deleted_at IS NULL
		ORDER BY id
	`, tok.ID, string(UploadCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

func (s *SQLiteStore) GetFile(ctx context.Context, tok *Token, fileID int64) (*File, error) {
	// Started rows are never exposed for download.
	f, err := scanFile(s.db.QueryRowContext(ctx, `
		SELECT `+fileCols+` FROM file
		WHERE id = ? AND token_id = ? AND file_upload_status = ? AND deleted_at IS NULL
	`, fileID, tok.ID, string(UploadCompleted)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *SQLiteStore) FindExpiredFiles(ctx context.Context) ([]TokenFiles, error) {
	n := now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenCols+` FROM token
		WHERE content_expires_at <= ? AND deleted_at IS NULL
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// One query per expired token. Fine for a local single-tenant store;
	// batch it if this ever grows past that.
	var result []TokenFiles
	for _, tok := range expired {
		frows, err := s.db.QueryContext(ctx,
			`SELECT `+fileCols+` FROM file WHERE token_id = ?`, tok.ID)
		if err != nil {
			return nil, err
		}
		files, err := collectFiles(frows)
		frows.Close()
		if err != nil {
			return nil, err
		}
		result = append(result, TokenFiles{Token: *tok, Files: files})
	}
	return result, nil
}

func (s *SQLiteStore) MarkTokensExpiredAndGetPaths(ctx context.Context) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	n := now()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, path FROM token
		WHERE (token_expires_at <= ? OR content_expires_at <= ?)
		  AND deleted_at IS NULL
	`, n, n)
	if err != nil {
		return nil, err
	}

	var ids []int64
	var paths []string
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, string(TokenDeleted), n)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE token SET status = ?, deleted_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *SQLiteStore) DeleteFilesForTokens(ctx context.Context, tokenIDs []int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	n := now()
	var deleted int64
	for _, id := range tokenIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE file SET deleted_at = ? WHERE token_id = ? AND deleted_at IS NULL
		`, n, id)
		if err != nil {
			return 0, err
		}
		count, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		deleted += count

		_, err = tx.ExecContext(ctx, `
			UPDATE token SET status = ?, deleted_at = ? WHERE id = ?
		`, string(TokenDeleted), n, id)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username, phc string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth (id, typ, data) VALUES (?, 'BASIC', ?)
	`, username, phc)
	return err
}

func (s *SQLiteStore) GetUserPHC(ctx context.Context, username string) (string, error) {
	var typ, data string
	err := s.db.QueryRowContext(ctx,
		`SELECT typ, data FROM auth WHERE id = ?`, username).Scan(&typ, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if typ != "BASIC" {
		return "", fmt.Errorf("unsupported auth type %q for user %q", typ, username)
	}
	return data, nil
}

func collectFiles(rows *sql.Rows) ([]*File, error) {
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
