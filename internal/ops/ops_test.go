package ops

import (
	"bytes"
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/cardvault/internal/config"
	"github.com/hpungsan/cardvault/internal/container"
	"github.com/hpungsan/cardvault/internal/db"
	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/storage"
)

// flakyStore wraps an FSStore and fails the operations switched on.
type flakyStore struct {
	*storage.FSStore

	mu         sync.Mutex
	failPut    bool
	failDelete bool
}

var errFlaky = stderrors.New("store unavailable")

func (s *flakyStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	fail := s.failPut
	s.mu.Unlock()
	if fail {
		return errFlaky
	}
	return s.FSStore.PutObject(ctx, key, data, contentType)
}

func (s *flakyStore) DeleteObject(ctx context.Context, key string) error {
	s.mu.Lock()
	fail := s.failDelete
	s.mu.Unlock()
	if fail {
		return errFlaky
	}
	return s.FSStore.DeleteObject(ctx, key)
}

func newTestDeps(t *testing.T) (*Deps, *flakyStore) {
	t.Helper()
	tmpDir := t.TempDir()

	database, err := db.Init(tmpDir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	fs, err := storage.NewFSStore(filepath.Join(tmpDir, "objects"))
	require.NoError(t, err)
	store := &flakyStore{FSStore: fs}

	cfg := config.DefaultConfig()
	cfg.Workers = 3
	return NewDeps(database, store, cfg, nil), store
}

func ingestJSON(t *testing.T, deps *Deps, body string) *IngestOutput {
	t.Helper()
	out, err := IngestCard(context.Background(), deps, IngestInput{
		FileName:    "card.json",
		ContentType: "application/json",
		Data:        []byte(body),
	})
	require.NoError(t, err)
	return out
}

func pngWith(chunks ...[]byte) []byte {
	var buf bytes.Buffer
	buf.Write(container.Signature)
	buf.Write(container.RawChunk("IHDR", make([]byte, 13)))
	for _, c := range chunks {
		buf.Write(c)
	}
	buf.Write(container.RawChunk("IEND", nil))
	return buf.Bytes()
}

func requireCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, code), "want %s, got %v", code, err)
}
