package db

import (
	"database/sql"

	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/transcript"
)

// Session is an uploaded chat transcript attached to a card.
type Session struct {
	ID           string          `json:"id"`
	CardID       string          `json:"card_id"`
	FileName     string          `json:"file_name"`
	ObjectKey    string          `json:"object_key"`
	Kind         transcript.Kind `json:"kind"`
	FileSize     int64           `json:"file_size"`
	MessageCount int             `json:"message_count"`
	CreatedAt    int64           `json:"created_at"`
}

const sessionColumns = `id, card_id, file_name, object_key, kind, file_size, message_count, created_at`

// InsertSession stores a new chat session.
func InsertSession(db *sql.DB, s *Session) error {
	_, err := db.Exec(`
		INSERT INTO chat_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.CardID, s.FileName, s.ObjectKey, string(s.Kind), s.FileSize, s.MessageCount, s.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func GetSession(db *sql.DB, id string) (*Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("session", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// ListSessions returns a card's sessions, newest first, with the total count.
func ListSessions(db *sql.DB, cardID string, limit, offset int) ([]Session, int, error) {
	var total int
	err := db.QueryRow(`SELECT COUNT(*) FROM chat_sessions WHERE card_id = ?`, cardID).Scan(&total)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := db.Query(`
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE card_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, cardID, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return sessions, total, nil
}

// DeleteSession removes a session row.
func DeleteSession(db *sql.DB, id string) error {
	result, err := db.Exec(`DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("session", id)
	}
	return nil
}

// UpdateSessionKind records the detected transcript kind of a session.
func UpdateSessionKind(db *sql.DB, id string, kind transcript.Kind) error {
	result, err := db.Exec(`UPDATE chat_sessions SET kind = ? WHERE id = ?`, string(kind), id)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("session", id)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s    Session
		kind string
	)
	err := row.Scan(&s.ID, &s.CardID, &s.FileName, &s.ObjectKey, &kind, &s.FileSize, &s.MessageCount, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Kind = transcript.Kind(kind)
	return &s, nil
}
