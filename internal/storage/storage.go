// Package storage holds card files and transcripts in an object store.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/hpungsan/cardvault/internal/config"
)

// ErrObjectNotExist is returned when a key has no object.
var ErrObjectNotExist = errors.New("object does not exist")

// ObjectStore is the storage collaborator used by ingestion and the
// transcript reader.
type ObjectStore interface {
	// GetObjectStream opens the object for reading. The caller owns the
	// returned reader and must close it; closing early stops the transfer.
	GetObjectStream(ctx context.Context, key string) (io.ReadCloser, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
	// PresignGet returns a URL that reads the object until ttl elapses.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Key prefixes under the content hash.
const (
	cardsPrefix       = "cards"
	transcriptsPrefix = "chat_history"
)

// CardKey returns the key for an uploaded card file.
func CardKey(data []byte, fileName string) string {
	return objectKey(data, cardsPrefix, fileName, "card")
}

// TranscriptKey returns the key for an uploaded transcript.
func TranscriptKey(data []byte, fileName string) string {
	return objectKey(data, transcriptsPrefix, fileName, "transcript")
}

// objectKey builds <hash8>/<prefix>/<slug><ext>. The hash keeps identical
// names from different uploads apart.
func objectKey(data []byte, prefix, fileName, fallback string) string {
	sum := sha256.Sum256(data)
	base := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	stem := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		stem = fallback
	}
	return path.Join(hex.EncodeToString(sum[:])[:8], prefix, stem+ext)
}

// FromConfig opens the store selected by cfg. baseDir anchors a relative fs
// directory.
func FromConfig(cfg config.StorageConfig, baseDir string) (ObjectStore, error) {
	switch cfg.Backend {
	case "", config.BackendFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "objects"
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(baseDir, dir)
		}
		fs, err := NewFSStore(dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.BackendS3:
		s3, err := NewS3Store(S3Options{
			Endpoint: cfg.Endpoint,
			Bucket:   cfg.Bucket,
			Credentials: Credentials{
				AccessKey: cfg.AccessKey,
				SecretKey: cfg.SecretKey,
			},
			Secure: cfg.Secure,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
