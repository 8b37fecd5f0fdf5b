package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func ptrInt64(v int64) *int64 { return &v }

func ptrDuration(d time.Duration) *time.Duration { return &d }

func TestSQLiteStore_Tokens(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		expiresAt := time.Now().UTC().Add(1 * time.Hour)
		tok, err := st.CreateToken(ctx, CreateToken{
			Path:                "demo",
			MaxSizeMiB:          ptrInt64(10),
			TokenExpiresAt:      expiresAt,
			ContentExpiresAfter: ptrDuration(24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to create token: %v", err)
		}

		if tok.ID == 0 {
			t.Error("expected assigned id")
		}
		if tok.Status != TokenFresh {
			t.Errorf("expected status FRESH, got %s", tok.Status)
		}
		if tok.MaxSizeMiB == nil || *tok.MaxSizeMiB != 10 {
			t.Errorf("expected max size 10 MiB, got %v", tok.MaxSizeMiB)
		}
		if tok.ContentExpiresAfterHours == nil || *tok.ContentExpiresAfterHours != 24 {
			t.Errorf("expected 24h content retention, got %v", tok.ContentExpiresAfterHours)
		}
		if tok.ContentExpiresAt != nil {
			t.Error("content_expires_at must be unset until consumption")
		}
		if d := tok.TokenExpiresAt.Sub(expiresAt); d > time.Second || d < -time.Second {
			t.Errorf("expected token_expires_at around %v, got %v", expiresAt, tok.TokenExpiresAt)
		}

		got, err := st.GetValidToken(ctx, "demo")
		if err != nil {
			t.Fatalf("failed to get valid token: %v", err)
		}
		if got.ID != tok.ID {
			t.Errorf("got id %d, want %d", got.ID, tok.ID)
		}
	})

	t.Run("DuplicateLiveToken", func(t *testing.T) {
		_, err := st.CreateToken(ctx, CreateToken{
			Path:           "demo",
			TokenExpiresAt: time.Now().UTC().Add(1 * time.Hour),
		})
		var dup *DuplicateTokenError
		if !errors.As(err, &dup) {
			t.Fatalf("expected DuplicateTokenError, got %v", err)
		}
		if dup.Path != "demo" {
			t.Errorf("expected path demo in error, got %s", dup.Path)
		}
	})

	t.Run("ExpiredPathCanBeReused", func(t *testing.T) {
		_, err := st.CreateToken(ctx, CreateToken{
			Path:           "stale",
			TokenExpiresAt: time.Now().UTC().Add(-1 * time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to create expired token: %v", err)
		}

		if _, err := st.GetValidToken(ctx, "stale"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for expired token, got %v", err)
		}

		// The expired token doesn't count as live, so the path is free.
		if _, err := st.CreateToken(ctx, CreateToken{
			Path:           "stale",
			TokenExpiresAt: time.Now().UTC().Add(1 * time.Hour),
		}); err != nil {
			t.Errorf("expected reuse of expired path to succeed, got %v", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := st.GetValidToken(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSQLiteStore_ConsumeToken(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	t.Run("FixesContentDeadline", func(t *testing.T) {
		tok, err := st.CreateToken(ctx, CreateToken{
			Path:                "consume",
			TokenExpiresAt:      time.Now().UTC().Add(1 * time.Hour),
			ContentExpiresAfter: ptrDuration(2 * time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to create token: %v", err)
		}

		before := time.Now().UTC()
		if err := st.ConsumeToken(ctx, tok); err != nil {
			t.Fatalf("failed to consume: %v", err)
		}

		got, err := st.GetValidToken(ctx, "consume")
		if err != nil {
			t.Fatalf("failed to get token: %v", err)
		}
		if got.Status != TokenUsed {
			t.Errorf("expected status USED, got %s", got.Status)
		}
		if got.ContentExpiresAt == nil {
			t.Fatal("expected content_expires_at to be set")
		}
		want := before.Add(2 * time.Hour)
		if d := got.ContentExpiresAt.Sub(want); d > time.Minute || d < -time.Minute {
			t.Errorf("expected content_expires_at around %v, got %v", want, got.ContentExpiresAt)
		}

		// A second consume must be a no-op; the deadline is never recomputed.
		first := *got.ContentExpiresAt
		if err := st.ConsumeToken(ctx, got); err != nil {
			t.Fatalf("second consume errored: %v", err)
		}
		again, _ := st.GetValidToken(ctx, "consume")
		if !again.ContentExpiresAt.Equal(first) {
			t.Errorf("content_expires_at changed on second consume: %v != %v", again.ContentExpiresAt, first)
		}
	})

	t.Run("NoContentExpiry", func(t *testing.T) {
		tok, err := st.CreateToken(ctx, CreateToken{
			Path:           "keep-forever",
			TokenExpiresAt: time.Now().UTC().Add(1 * time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to create token: %v", err)
		}
		if err := st.ConsumeToken(ctx, tok); err != nil {
			t.Fatalf("failed to consume: %v", err)
		}

		got, err := st.GetValidToken(ctx, "keep-forever")
		if err != nil {
			t.Fatalf("failed to get token: %v", err)
		}
		if got.ContentExpiresAt != nil {
			t.Errorf("expected nil content_expires_at, got %v", got.ContentExpiresAt)
		}
	})
}

func TestSQLiteStore_Files(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tok, err := st.CreateToken(ctx, CreateToken{
		Path:           "files",
		TokenExpiresAt: time.Now().UTC().Add(1 * time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	t.Run("StartedThenCompleted", func(t *testing.T) {
		f, err := st.CreateFile(ctx, CreateFile{
			TokenID:     tok.ID,
			Name:        "a.txt",
			Path:        "/tmp/files/a.txt",
			ContentType: "text/plain",
		})
		if err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
		if f.UploadStatus != UploadStarted {
			t.Errorf("expected STARTED, got %s", f.UploadStatus)
		}
		if f.SizeBytes != nil {
			t.Error("size must be unset before completion")
		}

		// Started rows must not be exposed.
		if _, err := st.GetFile(ctx, tok, f.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for started file, got %v", err)
		}
		list, err := st.ListCompletedFiles(ctx, tok)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("expected no completed files, got %d", len(list))
		}

		if err := st.CompleteUpload(ctx, f.ID, 1024); err != nil {
			t.Fatalf("failed to complete: %v", err)
		}

		got, err := st.GetFile(ctx, tok, f.ID)
		if err != nil {
			t.Fatalf("failed to get completed file: %v", err)
		}
		if got.UploadStatus != UploadCompleted {
			t.Errorf("expected COMPLETED, got %s", got.UploadStatus)
		}
		if got.SizeBytes == nil || *got.SizeBytes != 1024 {
			t.Errorf("expected size 1024, got %v", got.SizeBytes)
		}

		list, _ = st.ListCompletedFiles(ctx, tok)
		if len(list) != 1 || list[0].Name != "a.txt" {
			t.Errorf("expected exactly a.txt, got %+v", list)
		}
	})

	t.Run("AbortRemovesRow", func(t *testing.T) {
		f, err := st.CreateFile(ctx, CreateFile{TokenID: tok.ID, Name: "b.txt", Path: "/tmp/files/b.txt"})
		if err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
		if err := st.AbortUpload(ctx, f.ID); err != nil {
			t.Fatalf("failed to abort: %v", err)
		}
		list, _ := st.ListCompletedFiles(ctx, tok)
		for _, got := range list {
			if got.ID == f.ID {
				t.Error("aborted file must not be listed")
			}
		}
	})

	t.Run("ScopedToOwningToken", func(t *testing.T) {
		other, err := st.CreateToken(ctx, CreateToken{
			Path:           "other",
			TokenExpiresAt: time.Now().UTC().Add(1 * time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to create token: %v", err)
		}
		f, err := st.CreateFile(ctx, CreateFile{TokenID: other.ID, Name: "secret.txt", Path: "/tmp/other/secret.txt"})
		if err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
		if err := st.CompleteUpload(ctx, f.ID, 10); err != nil {
			t.Fatalf("failed to complete: %v", err)
		}

		// Guessing another token's file id must not work.
		if _, err := st.GetFile(ctx, tok, f.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across tokens, got %v", err)
		}
	})
}

func TestSQLiteStore_Expiry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	t.Run("FindExpiredFilesAndDelete", func(t *testing.T) {
		tok, err := st.CreateToken(ctx, CreateToken{
			Path:                "expired-content",
			TokenExpiresAt:      time.Now().UTC().Add(1 * time.Hour),
			ContentExpiresAfter: ptrDuration(-2 * time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to create token: %v", err)
		}
		f, err := st.CreateFile(ctx, CreateFile{TokenID: tok.ID, Name: "old.txt", Path: "/tmp/expired/old.txt"})
		if err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
		if err := st.CompleteUpload(ctx, f.ID, 5); err != nil {
			t.Fatalf("failed to complete: %v", err)
		}
		// Consumption fixes content_expires_at in the past.
		if err := st.ConsumeToken(ctx, tok); err != nil {
			t.Fatalf("failed to consume: %v", err)
		}

		expired, err := st.FindExpiredFiles(ctx)
		if err != nil {
			t.Fatalf("failed to find expired files: %v", err)
		}
		if len(expired) != 1 {
			t.Fatalf("expected 1 expired token, got %d", len(expired))
		}
		if expired[0].Token.ID != tok.ID || len(expired[0].Files) != 1 {
			t.Errorf("unexpected expired set: %+v", expired[0])
		}

		n, err := st.DeleteFilesForTokens(ctx, []int64{tok.ID})
		if err != nil {
			t.Fatalf("failed to delete files: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 deleted file, got %d", n)
		}

		// The token is marked deleted, so a second pass finds nothing.
		expired, err = st.FindExpiredFiles(ctx)
		if err != nil {
			t.Fatalf("failed to re-run find: %v", err)
		}
		if len(expired) != 0 {
			t.Errorf("expected no expired tokens after delete, got %d", len(expired))
		}

		// Deleting again must not double-count.
		n, err = st.DeleteFilesForTokens(ctx, []int64{tok.ID})
		if err != nil {
			t.Fatalf("failed second delete: %v", err)
		}
		if n != 0 {
			t.Errorf("expected 0 files on re-delete, got %d", n)
		}
	})

	t.Run("MarkTokensExpired", func(t *testing.T) {
		_, err := st.CreateToken(ctx, CreateToken{
			Path:           "never-used",
			TokenExpiresAt: time.Now().UTC().Add(-1 * time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to create token: %v", err)
		}

		paths, err := st.MarkTokensExpiredAndGetPaths(ctx)
		if err != nil {
			t.Fatalf("failed to mark expired: %v", err)
		}
		found := false
		for _, p := range paths {
			if p == "never-used" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected never-used in %v", paths)
		}

		// Idempotence: already-deleted tokens are not reported again.
		paths, err = st.MarkTokensExpiredAndGetPaths(ctx)
		if err != nil {
			t.Fatalf("failed second mark: %v", err)
		}
		for _, p := range paths {
			if p == "never-used" {
				t.Error("token reported twice by mark-expired")
			}
		}
	})
}

func TestSQLiteStore_Users(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateUser(ctx, "alice", "$2a$10$fakehash"); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	phc, err := st.GetUserPHC(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	if phc != "$2a$10$fakehash" {
		t.Errorf("got phc %q", phc)
	}

	if _, err := st.GetUserPHC(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := st.CreateUser(ctx, "alice", "$2a$10$otherhash"); err == nil {
		t.Error("expected error when creating a duplicate user")
	}
}
