package files

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"vrac/internal/logging"
)

var ErrInvalidPath = errors.New("invalid token path")

// validPathPattern keeps token paths to simple slugs so they cannot escape
// the root directory.
var validPathPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Root is the directory tree holding one sub-directory per token path. A
// token's directory never outlives the token and is only created once a
// first file part starts streaming.
type Root struct {
	base string
}

func NewRoot(base string) (*Root, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, err
	}
	return &Root{base: base}, nil
}

func validatePath(path string) error {
	if path == "" || len(path) > 128 || !validPathPattern.MatchString(path) {
		return ErrInvalidPath
	}
	return nil
}

// TokenDir returns the directory for a token path without creating it.
func (r *Root) TokenDir(path string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	return filepath.Join(r.base, path), nil
}

// EnsureTokenDir creates the token's directory if absent.
func (r *Root) EnsureTokenDir(path string) (string, error) {
	dir, err := r.TokenDir(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// RemoveTokenDir deletes the token's directory and anything left in it.
// A missing directory is not an error; cleanup must tolerate re-runs.
func (r *Root) RemoveTokenDir(path string) error {
	dir, err := r.TokenDir(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		logging.Cleanup.Debugw("token directory already gone", "dir", dir)
		return nil
	}
	return os.RemoveAll(dir)
}

// RemoveFile deletes a single blob. Missing files are logged and ignored so
// a partially completed cleanup pass can be re-run.
func (r *Root) RemoveFile(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Cleanup.Warnw("file already gone", "path", path)
		return nil
	}
	return err
}
