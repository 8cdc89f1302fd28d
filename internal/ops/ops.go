// Package ops composes the card and transcript pipeline with storage and
// persistence. Transports call into ops and never touch db or storage directly.
package ops

import (
	"crypto/rand"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/cardvault/internal/config"
	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/logging"
	"github.com/hpungsan/cardvault/internal/rewrite"
	"github.com/hpungsan/cardvault/internal/storage"
)

// Pagination limits for card and session listings.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// MaxUploadBytes caps card and transcript uploads read from files or requests.
const MaxUploadBytes = 64 << 20

var errNoStore = stderrors.New("no object store configured")

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Deps bundles the collaborators an operation may need.
type Deps struct {
	DB     *sql.DB
	Store  storage.ObjectStore
	Config *config.Config
	Logger *slog.Logger
	Pool   *rewrite.Pool
}

// NewDeps fills in defaults for a nil config, logger or pool.
func NewDeps(database *sql.DB, store storage.ObjectStore, cfg *config.Config, logger *slog.Logger) *Deps {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Deps{
		DB:     database,
		Store:  store,
		Config: cfg,
		Logger: logging.OrDiscard(logger),
		Pool:   rewrite.NewPool(cfg.Workers),
	}
}

func (d *Deps) logger() *slog.Logger { return logging.OrDiscard(d.Logger) }

func (d *Deps) config() *config.Config {
	if d.Config == nil {
		return config.DefaultConfig()
	}
	return d.Config
}

func (d *Deps) pool() *rewrite.Pool {
	if d.Pool == nil {
		d.Pool = rewrite.NewPool(d.config().Workers)
	}
	return d.Pool
}

func (d *Deps) store() (storage.ObjectStore, error) {
	if d.Store == nil {
		return nil, errors.NewInternal(errNoStore)
	}
	return d.Store, nil
}

// compile builds the rewrite pipeline for rules with the configured timeout.
func (d *Deps) compile(rules []rewrite.Rule) *rewrite.Pipeline {
	return rewrite.Compile(rules, rewrite.Options{
		Logger:       d.logger(),
		MatchTimeout: d.config().RuleMatchTimeout(),
	})
}

// newID returns a fresh ULID string.
func newID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return id.String(), nil
}

// clampList applies listing defaults and bounds.
func clampList(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}
