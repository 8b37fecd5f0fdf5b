package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"vrac/internal/logging"
	"vrac/internal/store"
)

var (
	// ErrTooLarge means the upload exceeded the token's size budget. The
	// token stays Fresh and no file from the attempt is completed.
	ErrTooLarge = errors.New("payload too large")
	// ErrMalformedStream means the multipart framing could not be decoded.
	ErrMalformedStream = errors.New("malformed multipart stream")
	// ErrTokenNotFresh means the token was already consumed.
	ErrTokenNotFresh = errors.New("token already consumed")
)

// framingAllowance is added on top of the token's size budget to account
// for multipart boundaries and part headers.
const framingAllowance int64 = 10 << 10

const copyChunkSize = 32 << 10

// Result reports what a successful ingest wrote.
type Result struct {
	Files        []*store.File
	BytesWritten int64
}

// Ingestor streams multipart uploads into a token's directory, bracketing
// every byte stream with Started/Completed metadata so a crash mid-write
// leaves a discoverable orphan instead of silent loss.
type Ingestor struct {
	store  store.Store
	writes *store.WriteSerializer
	root   *Root
}

func NewIngestor(st store.Store, writes *store.WriteSerializer, root *Root) *Ingestor {
	return &Ingestor{store: st, writes: writes, root: root}
}

// Ingest materializes each named part of mr as a file owned by tok, then
// consumes the token, even when no parts carried a file. On failure the
// token stays Fresh and any Started rows are left for the reaper.
func (ing *Ingestor) Ingest(ctx context.Context, tok *store.Token, mr *multipart.Reader) (*Result, error) {
	if tok.Status != store.TokenFresh {
		return nil, ErrTokenNotFresh
	}

	budget := int64(-1)
	if tok.MaxSizeMiB != nil {
		budget = *tok.MaxSizeMiB<<20 + framingAllowance
	}

	res := &Result{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedStream, err)
		}

		name := filepath.Base(part.FileName())
		if name == "" || name == "." || name == string(filepath.Separator) {
			// Unnamed parts carry no file; don't create empty blobs.
			continue
		}

		f, err := ing.ingestPart(ctx, tok, part, name, budget, res)
		if err != nil {
			return nil, err
		}
		res.Files = append(res.Files, f)
	}

	err := ing.writes.With(func() error {
		return ing.store.ConsumeToken(ctx, tok)
	})
	if err != nil {
		return nil, fmt.Errorf("consume token %q: %w", tok.Path, err)
	}

	logging.Internal.Infow("upload complete",
		"path", tok.Path, "files", len(res.Files), "bytes", res.BytesWritten)
	return res, nil
}

func (ing *Ingestor) ingestPart(ctx context.Context, tok *store.Token, part *multipart.Part, name string, budget int64, res *Result) (*store.File, error) {
	dir, err := ing.root.EnsureTokenDir(tok.Path)
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(dir, name)

	// Register the row before any bytes hit the disk.
	var row *store.File
	err = ing.writes.With(func() error {
		var err error
		row, err = ing.store.CreateFile(ctx, store.CreateFile{
			TokenID:     tok.ID,
			Name:        name,
			Path:        dest,
			ContentType: part.Header.Get("Content-Type"),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		// No bytes were written; the row would otherwise sit Started forever.
		ing.abortBestEffort(ctx, row.ID)
		return nil, err
	}

	remaining := int64(-1)
	if budget >= 0 {
		remaining = budget - res.BytesWritten
	}
	written, err := copyBounded(out, part, remaining)
	res.BytesWritten += written
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// Started row stays behind; the reaper or an explicit delete
		// reconciles the bytes already on disk.
		if errors.Is(err, ErrTooLarge) {
			logging.Internal.Warnw("upload exceeded size budget",
				"path", tok.Path, "file", name, "budget", budget)
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("streaming %q: %w", name, err)
	}

	err = ing.writes.With(func() error {
		return ing.store.CompleteUpload(ctx, row.ID, written)
	})
	if err != nil {
		return nil, err
	}

	size := written
	row.SizeBytes = &size
	row.UploadStatus = store.UploadCompleted

	logging.Internal.Infow("file stored", "path", dest, "bytes", written)
	return row, nil
}

func (ing *Ingestor) abortBestEffort(ctx context.Context, fileID int64) {
	err := ing.writes.With(func() error {
		return ing.store.AbortUpload(ctx, fileID)
	})
	if err != nil {
		logging.Internal.Errorw("abort upload failed", "file_id", fileID, "error", err)
	}
}

// copyBounded copies src to dst in fixed-size chunks, failing with
// ErrTooLarge once more than max bytes have been written. max < 0 means
// unbounded.
func copyBounded(dst io.Writer, src io.Reader, max int64) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if max >= 0 && written+int64(n) > max {
				return written, ErrTooLarge
			}
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
