package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vrac/internal/files"
	"vrac/internal/logging"
	"vrac/internal/store"
)

// Reaper reclaims disk space and metadata for tokens past their deadlines.
// Every filesystem removal tolerates "already gone", so a pass can be
// re-run after a partial failure without error or double-counting.
type Reaper struct {
	store  store.Store
	writes *store.WriteSerializer
	root   *files.Root
}

func NewReaper(st store.Store, writes *store.WriteSerializer, root *files.Root) *Reaper {
	return &Reaper{store: st, writes: writes, root: root}
}

// RunOnce performs a single cleanup pass:
//
//  1. tokens whose content deadline passed: remove their blobs and
//     directory, then mark files and token deleted in one transaction.
//  2. remaining tokens past either deadline (never consumed, or consumed
//     with nothing uploaded): mark Deleted and remove their directories.
//
// An unexpected filesystem error aborts the pass; the next scheduled run
// picks up where this one stopped.
func (r *Reaper) RunOnce(ctx context.Context) error {
	expired, err := r.store.FindExpiredFiles(ctx)
	if err != nil {
		return fmt.Errorf("find expired files: %w", err)
	}

	var reclaimed int64
	for _, tf := range expired {
		for _, f := range tf.Files {
			logging.Cleanup.Infow("removing file", "path", f.Path, "id", f.ID)
			if err := r.root.RemoveFile(f.Path); err != nil {
				return fmt.Errorf("remove %s: %w", f.Path, err)
			}
		}

		var n int64
		err = r.writes.With(func() error {
			var err error
			n, err = r.store.DeleteFilesForTokens(ctx, []int64{tf.Token.ID})
			return err
		})
		if err != nil {
			return fmt.Errorf("delete files for token %q: %w", tf.Token.Path, err)
		}
		reclaimed += n

		if err := r.root.RemoveTokenDir(tf.Token.Path); err != nil {
			return err
		}
	}
	if len(expired) > 0 {
		logging.Cleanup.Infow("reclaimed expired content",
			"tokens", len(expired), "files", reclaimed)
	}

	var paths []string
	err = r.writes.With(func() error {
		var err error
		paths, err = r.store.MarkTokensExpiredAndGetPaths(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark expired tokens: %w", err)
	}

	for _, path := range paths {
		if err := r.root.RemoveTokenDir(path); err != nil {
			return err
		}
	}
	if len(paths) > 0 {
		logging.Cleanup.Infow("expired tokens deleted", "paths", paths)
	}
	return nil
}

// Run executes RunOnce on the given interval until ctx is cancelled. Errors
// abort only the current pass.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				logging.Cleanup.Errorw("cleanup pass failed", "error", err)
			}
		}
	}
}

// DeleteToken forcibly deletes the token at path with its files and
// directory, regardless of expiry state, and returns the number of file
// rows removed. A stray directory with no live token is removed too.
func (r *Reaper) DeleteToken(ctx context.Context, path string) (int64, error) {
	tok, err := r.store.GetValidToken(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		logging.Cleanup.Infow("no live token, removing directory only", "path", path)
		return 0, r.root.RemoveTokenDir(path)
	}
	if err != nil {
		return 0, err
	}

	var n int64
	err = r.writes.With(func() error {
		var err error
		n, err = r.store.DeleteFilesForTokens(ctx, []int64{tok.ID})
		return err
	})
	if err != nil {
		return 0, err
	}

	if err := r.root.RemoveTokenDir(path); err != nil {
		return n, err
	}
	logging.Cleanup.Infow("token force-deleted", "path", path, "files", n)
	return n, nil
}
