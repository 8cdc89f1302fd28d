package db

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/hpungsan/cardvault/internal/card"
	"github.com/hpungsan/cardvault/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.VaultError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// CardRow is a stored card and its bookkeeping columns.
type CardRow struct {
	ID         string
	Card       card.Card
	Version    int
	FileHash   string
	FileName   *string
	FileType   card.Kind
	StorageKey *string
	CreatedAt  int64
	UpdatedAt  int64
	DeletedAt  *int64
}

// Name is the card's display name.
func (r *CardRow) Name() string { return r.Card.Data.Name }

// HistoryRow is a superseded card version.
type HistoryRow struct {
	ID         string
	CardID     string
	Version    int
	Card       card.Card
	FileHash   string
	StorageKey *string
	CreatedAt  int64
}

// CardSummary is a card row without its JSON body, for listings.
type CardSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Version   int       `json:"version"`
	FileType  card.Kind `json:"file_type"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

const cardColumns = `
	id, spec, spec_version, card_json, version, file_hash,
	file_name, file_type, storage_key, created_at, updated_at, deleted_at
`

// InsertCard stores a new card at r.Version.
func InsertCard(db *sql.DB, r *CardRow) error {
	cardJSON, err := json.Marshal(r.Card)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO cards (
			id, name, spec, spec_version, card_json, version, file_hash,
			file_name, file_type, storage_key, created_at, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`
	_, err = db.Exec(query,
		r.ID, r.Name(), r.Card.Spec, r.Card.SpecVersion, string(cardJSON), r.Version, r.FileHash,
		toNullString(r.FileName), string(r.FileType), toNullString(r.StorageKey), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetCard retrieves a card by its ULID.
// If includeDeleted is false, soft-deleted cards are excluded.
func GetCard(db *sql.DB, id string, includeDeleted bool) (*CardRow, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = ?`
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}

	r, err := scanCard(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("card", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// SupersedeCard replaces the live version of next.ID with next. The row it
// replaces is appended to card_history under historyID, and next.Version is
// set to the old version plus one. CreatedAt is kept from the old row.
func SupersedeCard(db *sql.DB, next *CardRow, historyID string) error {
	cardJSON, err := json.Marshal(next.Card)
	if err != nil {
		return errors.NewInternal(err)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		version   int
		createdAt int64
	)
	err = tx.QueryRow(
		`SELECT version, created_at FROM cards WHERE id = ? AND deleted_at IS NULL`, next.ID,
	).Scan(&version, &createdAt)
	if err == sql.ErrNoRows {
		return errors.NewNotFound("card", next.ID)
	}
	if err != nil {
		return errors.NewInternal(err)
	}

	_, err = tx.Exec(`
		INSERT INTO card_history (id, card_id, version, card_json, file_hash, storage_key, created_at)
		SELECT ?, id, version, card_json, file_hash, storage_key, updated_at
		FROM cards WHERE id = ?
	`, historyID, next.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	_, err = tx.Exec(`
		UPDATE cards
		SET name = ?, spec = ?, spec_version = ?, card_json = ?, version = ?,
			file_hash = ?, file_name = ?, file_type = ?, storage_key = ?, updated_at = ?
		WHERE id = ?
	`,
		next.Name(), next.Card.Spec, next.Card.SpecVersion, string(cardJSON), version+1,
		next.FileHash, toNullString(next.FileName), string(next.FileType), toNullString(next.StorageKey), next.UpdatedAt,
		next.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}

	next.Version = version + 1
	next.CreatedAt = createdAt
	return nil
}

// ListCards returns live cards, most recently updated first, with the total count.
func ListCards(db *sql.DB, limit, offset int) ([]CardSummary, int, error) {
	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM cards WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := db.Query(`
		SELECT id, name, spec, version, file_type, created_at, updated_at
		FROM cards
		WHERE deleted_at IS NULL
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	summaries := []CardSummary{}
	for rows.Next() {
		var (
			s        CardSummary
			fileType string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Spec, &s.Version, &fileType, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		s.FileType = card.Kind(fileType)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return summaries, total, nil
}

// SoftDeleteCard marks a card as deleted.
func SoftDeleteCard(db *sql.DB, id string, deletedAt int64) error {
	result, err := db.Exec(`
		UPDATE cards SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, deletedAt, deletedAt, id)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("card", id)
	}
	return nil
}

// ListCardHistory returns superseded versions of a card, newest first.
func ListCardHistory(db *sql.DB, cardID string) ([]HistoryRow, error) {
	rows, err := db.Query(`
		SELECT id, card_id, version, card_json, file_hash, storage_key, created_at
		FROM card_history
		WHERE card_id = ?
		ORDER BY version DESC
	`, cardID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	history := []HistoryRow{}
	for rows.Next() {
		var (
			h          HistoryRow
			cardJSON   string
			storageKey sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.CardID, &h.Version, &cardJSON, &h.FileHash, &storageKey, &h.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := json.Unmarshal([]byte(cardJSON), &h.Card); err != nil {
			return nil, errors.NewInternal(err)
		}
		h.StorageKey = fromNullString(storageKey)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return history, nil
}

// scanCard scans a single row into a CardRow.
func scanCard(row *sql.Row) (*CardRow, error) {
	var (
		r           CardRow
		spec        string
		specVersion string
		cardJSON    string
		fileName    sql.NullString
		fileType    string
		storageKey  sql.NullString
		deletedAt   sql.NullInt64
	)

	err := row.Scan(
		&r.ID, &spec, &specVersion, &cardJSON, &r.Version, &r.FileHash,
		&fileName, &fileType, &storageKey, &r.CreatedAt, &r.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(cardJSON), &r.Card); err != nil {
		return nil, err
	}
	r.FileName = fromNullString(fileName)
	r.FileType = card.Kind(fileType)
	r.StorageKey = fromNullString(storageKey)
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Int64
	}
	return &r, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
