package ops

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/cardvault/internal/card"
	"github.com/hpungsan/cardvault/internal/db"
	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/storage"
)

// IngestInput contains parameters for the IngestCard operation.
type IngestInput struct {
	CardID      string // optional; supersedes this card when set
	FileName    string
	ContentType string
	Data        []byte
}

// IngestOutput contains the result of the IngestCard operation.
type IngestOutput struct {
	ID         string    `json:"id"`
	Version    int       `json:"version"`
	Card       card.Card `json:"card"`
	StorageKey string    `json:"storage_key,omitempty"`
}

// IngestCard parses an uploaded card file and stores it. A new upload is
// version 1; an upload for an existing CardID supersedes it and moves the
// old version to history. The file is uploaded before any row is written, so
// a failure at any stage leaves no card behind.
func IngestCard(ctx context.Context, deps *Deps, input IngestInput) (*IngestOutput, error) {
	if len(input.Data) == 0 {
		return nil, errors.NewInvalidRequest("card data is required")
	}
	if len(input.Data) > MaxUploadBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("card exceeds %d bytes", MaxUploadBytes))
	}
	cardID := strings.TrimSpace(input.CardID)
	logger := deps.logger()

	kind, err := card.KindFromContentType(input.ContentType, input.FileName, input.Data)
	if err != nil {
		return nil, err
	}

	parsed, err := card.Parse(input.Data, kind)
	if err != nil {
		logger.Info("card ingest failed", "stage", errors.StageOf(err), "file_name", input.FileName, "error", err)
		return nil, err
	}

	if cardID != "" {
		// Fail fast before uploading for an unknown card.
		if _, err := db.GetCard(deps.DB, cardID, false); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(input.Data)
	row := &db.CardRow{
		ID:       cardID,
		Card:     *parsed,
		Version:  1,
		FileHash: hex.EncodeToString(sum[:]),
		FileType: kind,
	}
	if input.FileName != "" {
		row.FileName = &input.FileName
	}

	if deps.Store != nil {
		key := storage.CardKey(input.Data, input.FileName)
		if err := deps.Store.PutObject(ctx, key, input.Data, contentTypeFor(kind)); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to upload card: %w", err))
		}
		row.StorageKey = &key
	}

	now := time.Now().Unix()
	row.CreatedAt = now
	row.UpdatedAt = now

	if cardID == "" {
		if row.ID, err = newID(); err != nil {
			return nil, err
		}
		if err := db.InsertCard(deps.DB, row); err != nil {
			return nil, err
		}
	} else {
		historyID, err := newID()
		if err != nil {
			return nil, err
		}
		if err := db.SupersedeCard(deps.DB, row, historyID); err != nil {
			return nil, err
		}
	}

	logger.Debug("card ingested", "id", row.ID, "version", row.Version, "kind", kind)

	out := &IngestOutput{ID: row.ID, Version: row.Version, Card: row.Card}
	if row.StorageKey != nil {
		out.StorageKey = *row.StorageKey
	}
	return out, nil
}

func contentTypeFor(kind card.Kind) string {
	if kind == card.KindImage {
		return "image/png"
	}
	return "application/json"
}

// FetchCardInput contains parameters for the FetchCard operation.
type FetchCardInput struct {
	ID             string
	IncludeDeleted bool
}

// FetchCardOutput contains the result of the FetchCard operation.
type FetchCardOutput struct {
	ID               string    `json:"id"`
	Version          int       `json:"version"`
	Card             card.Card `json:"card"`
	CreatorNotesHTML string    `json:"creator_notes_html"`
	FileName         *string   `json:"file_name,omitempty"`
	FileType         card.Kind `json:"file_type"`
	StorageKey       *string   `json:"storage_key,omitempty"`
	CreatedAt        int64     `json:"created_at"`
	UpdatedAt        int64     `json:"updated_at"`
	DeletedAt        *int64    `json:"deleted_at,omitempty"`
}

// FetchCard returns a stored card with its creator notes rendered to HTML.
func FetchCard(database *sql.DB, input FetchCardInput) (*FetchCardOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	row, err := db.GetCard(database, id, input.IncludeDeleted)
	if err != nil {
		return nil, err
	}

	notesHTML, err := renderMarkdown(row.Card.Data.CreatorNotes)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return &FetchCardOutput{
		ID:               row.ID,
		Version:          row.Version,
		Card:             row.Card,
		CreatorNotesHTML: notesHTML,
		FileName:         row.FileName,
		FileType:         row.FileType,
		StorageKey:       row.StorageKey,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		DeletedAt:        row.DeletedAt,
	}, nil
}

// renderMarkdown converts markdown to HTML. Raw HTML in the source is
// omitted by goldmark's default renderer.
func renderMarkdown(md string) (string, error) {
	if md == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ListCardsInput contains parameters for the ListCards operation.
type ListCardsInput struct {
	Limit  int // default: 20, max: 100
	Offset int
}

// ListCardsOutput contains the result of the ListCards operation.
type ListCardsOutput struct {
	Items      []db.CardSummary `json:"items"`
	Pagination Pagination       `json:"pagination"`
	Sort       string           `json:"sort"`
}

// ListCards returns live card summaries, most recently updated first.
func ListCards(database *sql.DB, input ListCardsInput) (*ListCardsOutput, error) {
	limit, offset := clampList(input.Limit, input.Offset)

	items, total, err := db.ListCards(database, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []db.CardSummary{}
	}

	return &ListCardsOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "updated_at_desc",
	}, nil
}

// DeleteCardInput contains parameters for the DeleteCard operation.
type DeleteCardInput struct {
	ID string
}

// DeleteCardOutput contains the result of the DeleteCard operation.
type DeleteCardOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// DeleteCard soft-deletes a card. Its history and sessions are kept.
func DeleteCard(database *sql.DB, input DeleteCardInput) (*DeleteCardOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if err := db.SoftDeleteCard(database, id, time.Now().Unix()); err != nil {
		return nil, err
	}
	return &DeleteCardOutput{Deleted: true, ID: id}, nil
}

// CardHistoryInput contains parameters for the CardHistory operation.
type CardHistoryInput struct {
	ID string
}

// HistoryItem is one superseded card version.
type HistoryItem struct {
	Version    int       `json:"version"`
	Card       card.Card `json:"card"`
	FileHash   string    `json:"file_hash"`
	StorageKey *string   `json:"storage_key,omitempty"`
	CreatedAt  int64     `json:"created_at"`
}

// CardHistoryOutput contains the result of the CardHistory operation.
type CardHistoryOutput struct {
	ID             string        `json:"id"`
	CurrentVersion int           `json:"current_version"`
	Versions       []HistoryItem `json:"versions"`
}

// CardHistory lists the superseded versions of a card, newest first.
func CardHistory(database *sql.DB, input CardHistoryInput) (*CardHistoryOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	current, err := db.GetCard(database, id, true)
	if err != nil {
		return nil, err
	}
	rows, err := db.ListCardHistory(database, id)
	if err != nil {
		return nil, err
	}

	versions := make([]HistoryItem, 0, len(rows))
	for _, h := range rows {
		versions = append(versions, HistoryItem{
			Version:    h.Version,
			Card:       h.Card,
			FileHash:   h.FileHash,
			StorageKey: h.StorageKey,
			CreatedAt:  h.CreatedAt,
		})
	}
	return &CardHistoryOutput{ID: id, CurrentVersion: current.Version, Versions: versions}, nil
}
