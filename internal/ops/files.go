package ops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hpungsan/cardvault/internal/errors"
)

// ReadUploadFile reads a local card or transcript file for upload. Symlinks,
// directories and files larger than MaxUploadBytes are refused.
func ReadUploadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	cleaned := filepath.Clean(path)

	if info, err := os.Lstat(cleaned); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, errors.NewInvalidRequest("path must not be a symlink")
		}
		if info.IsDir() {
			return nil, errors.NewInvalidRequest("path is a directory")
		}
		if info.Size() > MaxUploadBytes {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("file exceeds %d bytes", MaxUploadBytes))
		}
	}

	f, err := openFileNoFollowRead(cleaned)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open %s: %w", path, err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes+1))
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to read %s: %w", path, err))
	}
	if len(data) > MaxUploadBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("file exceeds %d bytes", MaxUploadBytes))
	}
	return data, nil
}
