package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/cardvault/internal/db"
	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/rewrite"
	"github.com/hpungsan/cardvault/internal/transcript"
)

// PageInput contains parameters for the ReadTranscriptPage operation.
type PageInput struct {
	SessionID string
	Page      int // default: 1
	PageSize  int // default: config default_page_size
}

// PageOutput is one rendered window of a transcript.
type PageOutput struct {
	Records      []transcript.Record `json:"records"`
	HasMore      bool                `json:"has_more"`
	Page         int                 `json:"page"`
	PageSize     int                 `json:"page_size"`
	Kind         transcript.Kind     `json:"kind"`
	SkippedRules []rewrite.Skip      `json:"skipped_rules"`
}

// window applies page defaults and rejects out-of-range values.
func (d *Deps) window(page, pageSize int) (transcript.Window, error) {
	cfg := d.config()
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = cfg.DefaultPageSize
	}
	w := transcript.Window{Page: page, PageSize: pageSize}
	if err := w.Validate(); err != nil {
		return w, err
	}
	if cfg.MaxPageSize > 0 && pageSize > cfg.MaxPageSize {
		return w, errors.NewInvalidRequest(fmt.Sprintf("page_size must be <= %d, got %d", cfg.MaxPageSize, pageSize))
	}
	return w, nil
}

// ReadTranscriptPage streams one window of a session's transcript from the
// object store and renders each record through the card's rule chain. Only
// the lines up to the window and one probe line past it are read.
func ReadTranscriptPage(ctx context.Context, deps *Deps, input PageInput) (*PageOutput, error) {
	w, err := deps.window(input.Page, input.PageSize)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.SessionID)
	if id == "" {
		return nil, errors.NewInvalidRequest("session_id is required")
	}

	s, err := db.GetSession(deps.DB, id)
	if err != nil {
		return nil, err
	}
	store, err := deps.store()
	if err != nil {
		return nil, err
	}
	rules, err := RuleChain(deps.DB, s.CardID)
	if err != nil {
		return nil, err
	}

	opts := transcript.ReadOptions{
		Key:        s.ObjectKey,
		BufferSize: deps.config().ReadBufferBytes,
		Logger:     deps.logger(),
	}
	read := func(w transcript.Window, kind transcript.Kind) (*transcript.Page, error) {
		rc, err := store.GetObjectStream(ctx, s.ObjectKey)
		if err != nil {
			return nil, errors.NewTranscriptRetrieval(s.ObjectKey, err)
		}
		return transcript.ReadPage(ctx, rc, w, kind, opts)
	}

	kind := s.Kind
	if !kind.Valid() {
		kind = transcript.KindFromFileName(s.FileName)
	}
	if !kind.Valid() {
		probe, err := read(transcript.Window{Page: 1, PageSize: 1}, transcript.KindUnknown)
		if err != nil {
			return nil, err
		}
		if len(probe.Records) == 0 {
			return emptyPage(w, s.Kind), nil
		}
		kind = transcript.Detect(probe.Records[0].Mes)
		if err := db.UpdateSessionKind(deps.DB, s.ID, kind); err != nil {
			deps.logger().Warn("failed to record session kind", "session_id", s.ID, "error", err)
		}
	}

	page, err := read(w, kind)
	if err != nil {
		return nil, err
	}

	pl := deps.compile(rules)
	records, err := transcript.RenderRecords(ctx, deps.pool(), pl, page.Records)
	if err != nil {
		return nil, err
	}

	return &PageOutput{
		Records:      records,
		HasMore:      page.HasMore,
		Page:         w.Page,
		PageSize:     w.PageSize,
		Kind:         kind,
		SkippedRules: pl.Skipped(),
	}, nil
}

func emptyPage(w transcript.Window, kind transcript.Kind) *PageOutput {
	return &PageOutput{
		Records:      []transcript.Record{},
		Page:         w.Page,
		PageSize:     w.PageSize,
		Kind:         kind,
		SkippedRules: []rewrite.Skip{},
	}
}

// ParseInput contains parameters for the ParseTranscript operation.
type ParseInput struct {
	Text     string
	FileName string // optional; its extension can fix the kind
	CardID   string // optional; selects the rule chain
	Page     int
	PageSize int
}

// ParseOutput is one rendered window of an in-memory transcript.
type ParseOutput struct {
	PageOutput
	Total int `json:"total"`
}

// ParseTranscript parses a whole transcript held in memory, then renders one
// window of it. Free-form text is split on its markers rather than by line.
func ParseTranscript(ctx context.Context, deps *Deps, input ParseInput) (*ParseOutput, error) {
	w, err := deps.window(input.Page, input.PageSize)
	if err != nil {
		return nil, err
	}
	if len(input.Text) > MaxUploadBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("transcript exceeds %d bytes", MaxUploadBytes))
	}

	rules, err := RuleChain(deps.DB, input.CardID)
	if err != nil {
		return nil, err
	}

	kind := transcript.KindFromFileName(input.FileName)
	if !kind.Valid() {
		kind = transcript.Detect(transcript.FirstLine(input.Text))
	}
	all := transcript.Parse(input.Text, kind)

	start, end := w.Bounds()
	start = min(start, len(all))
	end = min(end, len(all))

	pl := deps.compile(rules)
	records, err := transcript.RenderRecords(ctx, deps.pool(), pl, all[start:end])
	if err != nil {
		return nil, err
	}

	return &ParseOutput{
		PageOutput: PageOutput{
			Records:      records,
			HasMore:      end < len(all),
			Page:         w.Page,
			PageSize:     w.PageSize,
			Kind:         kind,
			SkippedRules: pl.Skipped(),
		},
		Total: len(all),
	}, nil
}
