package ops

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/cardvault/internal/db"
	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/storage"
	"github.com/hpungsan/cardvault/internal/transcript"
)

// AddSessionInput contains parameters for the AddSession operation.
type AddSessionInput struct {
	CardID   string
	FileName string
	Data     []byte
}

// AddSession uploads a chat transcript for a card. The kind is detected from
// the first non-blank line and the message count is taken once at upload.
func AddSession(ctx context.Context, deps *Deps, input AddSessionInput) (*db.Session, error) {
	cardID := strings.TrimSpace(input.CardID)
	if cardID == "" {
		return nil, errors.NewInvalidRequest("card_id is required")
	}
	fileName := filepath.Base(strings.ReplaceAll(strings.TrimSpace(input.FileName), "\\", "/"))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, errors.NewInvalidRequest("file_name is required")
	}
	if len(input.Data) > MaxUploadBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("transcript exceeds %d bytes", MaxUploadBytes))
	}

	store, err := deps.store()
	if err != nil {
		return nil, err
	}
	if _, err := db.GetCard(deps.DB, cardID, false); err != nil {
		return nil, err
	}

	text := string(input.Data)
	kind := transcript.KindUnknown
	if first := transcript.FirstLine(text); first != "" {
		kind = transcript.Detect(first)
	}

	key := storage.TranscriptKey(input.Data, fileName)
	if err := store.PutObject(ctx, key, input.Data, transcriptContentType(kind)); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to upload transcript: %w", err))
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	s := &db.Session{
		ID:           id,
		CardID:       cardID,
		FileName:     fileName,
		ObjectKey:    key,
		Kind:         kind,
		FileSize:     int64(len(input.Data)),
		MessageCount: transcript.Count(text, kind),
		CreatedAt:    time.Now().Unix(),
	}
	if err := db.InsertSession(deps.DB, s); err != nil {
		return nil, err
	}

	deps.logger().Debug("session added", "id", s.ID, "card_id", cardID, "kind", kind, "messages", s.MessageCount)
	return s, nil
}

func transcriptContentType(kind transcript.Kind) string {
	if kind == transcript.KindStructured {
		return "application/jsonl"
	}
	return "text/plain; charset=utf-8"
}

// ListSessionsInput contains parameters for the ListSessions operation.
type ListSessionsInput struct {
	CardID string
	Limit  int
	Offset int
}

// ListSessionsOutput contains the result of the ListSessions operation.
type ListSessionsOutput struct {
	Items      []db.Session `json:"items"`
	Pagination Pagination   `json:"pagination"`
}

// ListSessions returns a card's sessions, newest first.
func ListSessions(database *sql.DB, input ListSessionsInput) (*ListSessionsOutput, error) {
	cardID := strings.TrimSpace(input.CardID)
	if cardID == "" {
		return nil, errors.NewInvalidRequest("card_id is required")
	}
	if _, err := db.GetCard(database, cardID, true); err != nil {
		return nil, err
	}
	limit, offset := clampList(input.Limit, input.Offset)

	items, total, err := db.ListSessions(database, cardID, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []db.Session{}
	}

	return &ListSessionsOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}

// DeleteSessionOutput contains the result of the DeleteSession operation.
type DeleteSessionOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// DeleteSession removes a session and its stored transcript. A storage
// failure is logged and the row is removed regardless.
func DeleteSession(ctx context.Context, deps *Deps, id string) (*DeleteSessionOutput, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	s, err := db.GetSession(deps.DB, id)
	if err != nil {
		return nil, err
	}

	if store, err := deps.store(); err != nil {
		deps.logger().Warn("no object store, transcript left in place", "session_id", id, "key", s.ObjectKey)
	} else if err := store.DeleteObject(ctx, s.ObjectKey); err != nil {
		deps.logger().Warn("failed to delete transcript object", "session_id", id, "key", s.ObjectKey, "error", err)
	}

	if err := db.DeleteSession(deps.DB, id); err != nil {
		return nil, err
	}
	return &DeleteSessionOutput{Deleted: true, ID: id}, nil
}

// PresignOutput contains the result of the PresignSession operation.
type PresignOutput struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

// PresignSession returns a time-limited URL for downloading a session's
// transcript.
func PresignSession(ctx context.Context, deps *Deps, id string) (*PresignOutput, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	s, err := db.GetSession(deps.DB, id)
	if err != nil {
		return nil, err
	}
	store, err := deps.store()
	if err != nil {
		return nil, err
	}

	ttl := deps.config().Storage.PresignTTL()
	url, err := store.PresignGet(ctx, s.ObjectKey, ttl)
	if err != nil {
		return nil, errors.NewTranscriptRetrieval(s.ObjectKey, err)
	}
	return &PresignOutput{ID: id, URL: url, ExpiresIn: int(ttl / time.Second)}, nil
}
