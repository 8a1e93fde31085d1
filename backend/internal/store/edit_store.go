package store

import (
	"context"
	"database/sql"
	"time"

	"collabEngine/backend/internal/collab"
)

// DocumentEdit 只用于建表（AutoMigrate），读写走下面的原生 SQL。
type DocumentEdit struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID    string `gorm:"index;size:64"`
	AuthorID      uint64
	Operation     string `gorm:"size:20"`
	Position      int
	Content       string `gorm:"type:text"`
	Length        int    `gorm:"default:1"`
	ClientVersion uint64
	Timestamp     time.Time `gorm:"index;type:datetime(6)"`
	Applied       bool
}

// EditStore 是 append-only 编辑日志，冲突消解按 timestamp 升序读回。
type EditStore struct{ db *sql.DB }

func NewEditStore(db *sql.DB) *EditStore {
	return &EditStore{db: db}
}

func (s *EditStore) AppendEdit(ctx context.Context, rec collab.EditRecord) (uint64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO document_edits
		(document_id, author_id, operation, position, content, length, client_version, timestamp, applied)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DocID,
		rec.AuthorID,
		string(rec.Op),
		rec.Position,
		rec.Content,
		rec.Length,
		rec.ClientVersion,
		rec.Timestamp,
		rec.Applied,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (s *EditStore) MarkApplied(ctx context.Context, editID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE document_edits SET applied = 1 WHERE id = ?`, editID)
	return err
}

func (s *EditStore) ListAppliedEdits(ctx context.Context, docID string) ([]collab.EditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, author_id, operation, position, content, length, client_version, timestamp, applied
		FROM document_edits
		WHERE document_id = ? AND applied = 1
		ORDER BY timestamp ASC`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []collab.EditRecord
	for rows.Next() {
		var rec collab.EditRecord
		var op string
		if err := rows.Scan(&rec.ID, &rec.DocID, &rec.AuthorID, &op, &rec.Position,
			&rec.Content, &rec.Length, &rec.ClientVersion, &rec.Timestamp, &rec.Applied); err != nil {
			return nil, err
		}
		rec.Op = collab.Operation(op)
		out = append(out, rec)
	}
	return out, rows.Err()
}
