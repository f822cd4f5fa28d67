package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

// ErrEntryNotFound is the shared not-found sentinel.
var ErrEntryNotFound = knowledge.ErrEntryNotFound

type entryRow struct {
	ID           string    `db:"id"`
	CollectionID string    `db:"collection_id"`
	Name         string    `db:"name"`
	Content      string    `db:"content"`
	Tags         []byte    `db:"tags"`
	Activation   []byte    `db:"activation"`
	Positioning  []byte    `db:"positioning"`
	Timing       []byte    `db:"timing"`
	Filtering    []byte    `db:"filtering"`
	Budget       []byte    `db:"budget"`
	IsVectorized bool      `db:"is_vectorized"`
	ChunkCount   int       `db:"chunk_count"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r entryRow) toEntry() knowledge.Entry {
	entry := knowledge.Entry{
		ID:           r.ID,
		CollectionID: r.CollectionID,
		Name:         r.Name,
		Content:      r.Content,
		IsVectorized: r.IsVectorized,
		ChunkCount:   r.ChunkCount,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	// Each rule group unmarshals independently; a corrupt one falls back
	// to defaults instead of rejecting the entry.
	_ = json.Unmarshal(r.Tags, &entry.Tags)
	_ = json.Unmarshal(r.Activation, &entry.Activation)
	_ = json.Unmarshal(r.Positioning, &entry.Positioning)
	_ = json.Unmarshal(r.Timing, &entry.Timing)
	_ = json.Unmarshal(r.Filtering, &entry.Filtering)
	_ = json.Unmarshal(r.Budget, &entry.Budget)
	return entry.Normalized()
}

func marshalEntry(entry knowledge.Entry) (entryRow, error) {
	row := entryRow{
		ID:           entry.ID,
		CollectionID: entry.CollectionID,
		Name:         entry.Name,
		Content:      entry.Content,
		IsVectorized: entry.IsVectorized,
		ChunkCount:   entry.ChunkCount,
	}
	var err error
	if row.Tags, err = json.Marshal(entry.Tags); err != nil {
		return row, err
	}
	if row.Activation, err = json.Marshal(entry.Activation); err != nil {
		return row, err
	}
	if row.Positioning, err = json.Marshal(entry.Positioning); err != nil {
		return row, err
	}
	if row.Timing, err = json.Marshal(entry.Timing); err != nil {
		return row, err
	}
	if row.Filtering, err = json.Marshal(entry.Filtering); err != nil {
		return row, err
	}
	if row.Budget, err = json.Marshal(entry.Budget); err != nil {
		return row, err
	}
	return row, nil
}

func (s *Store) CreateEntry(ctx context.Context, entry knowledge.Entry) error {
	row, err := marshalEntry(entry.Normalized())
	if err != nil {
		return fmt.Errorf("marshalling entry %s: %w", entry.ID, err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO knowledge_entries
			(id, collection_id, name, content, tags, activation, positioning, timing, filtering, budget, is_vectorized, chunk_count)
		VALUES
			(:id, :collection_id, :name, :content, :tags, :activation, :positioning, :timing, :filtering, :budget, :is_vectorized, :chunk_count)
	`, row)
	return err
}

func (s *Store) UpdateEntry(ctx context.Context, entry knowledge.Entry) error {
	row, err := marshalEntry(entry.Normalized())
	if err != nil {
		return fmt.Errorf("marshalling entry %s: %w", entry.ID, err)
	}
	result, err := s.db.NamedExecContext(ctx, `
		UPDATE knowledge_entries SET
			collection_id = :collection_id,
			name = :name,
			content = :content,
			tags = :tags,
			activation = :activation,
			positioning = :positioning,
			timing = :timing,
			filtering = :filtering,
			budget = :budget,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = :id
	`, row)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*knowledge.Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM knowledge_entries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	entry := row.toEntry()
	return &entry, nil
}

func (s *Store) ListEntriesByCollection(ctx context.Context, collectionID string) ([]knowledge.Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM knowledge_entries WHERE collection_id = ? ORDER BY created_at`, collectionID)
	if err != nil {
		return nil, err
	}
	entries := make([]knowledge.Entry, len(rows))
	for i, row := range rows {
		entries[i] = row.toEntry()
	}
	return entries, nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// SetVectorizationStatus is the only writeback this subsystem performs on
// the entry table.
func (s *Store) SetVectorizationStatus(ctx context.Context, id string, vectorized bool, chunkCount int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_entries
		   SET is_vectorized = ?, chunk_count = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?
	`, vectorized, chunkCount, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrEntryNotFound
	}
	return nil
}
