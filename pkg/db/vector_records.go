package db

import (
	"context"
	"encoding/json"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

type vectorRecordRow struct {
	VectorID    string `db:"vector_id"`
	EntryID     string `db:"entry_id"`
	TenantID    string `db:"tenant_id"`
	ChunkIndex  int    `db:"chunk_index"`
	TotalChunks int    `db:"total_chunks"`
	Metadata    []byte `db:"metadata"`
}

// InsertVectorRecord mirrors one index record into durable storage.
// Mirror writes happen record-by-record so a partial failure leaves an
// audit trail for reconciliation rather than silence.
func (s *Store) InsertVectorRecord(ctx context.Context, record knowledge.VectorRecord) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO vector_records (vector_id, entry_id, tenant_id, chunk_index, total_chunks, metadata)
		VALUES (:vector_id, :entry_id, :tenant_id, :chunk_index, :total_chunks, :metadata)
	`, vectorRecordRow{
		VectorID:    record.VectorID,
		EntryID:     record.EntryID,
		TenantID:    record.TenantID,
		ChunkIndex:  record.ChunkIndex,
		TotalChunks: record.TotalChunks,
		Metadata:    metadata,
	})
	return err
}

func (s *Store) ListVectorRecords(ctx context.Context, entryID string) ([]knowledge.VectorRecord, error) {
	var rows []vectorRecordRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT vector_id, entry_id, tenant_id, chunk_index, total_chunks, metadata
		  FROM vector_records WHERE entry_id = ? ORDER BY chunk_index
	`, entryID)
	if err != nil {
		return nil, err
	}
	records := make([]knowledge.VectorRecord, len(rows))
	for i, row := range rows {
		records[i] = knowledge.VectorRecord{
			VectorID:    row.VectorID,
			EntryID:     row.EntryID,
			TenantID:    row.TenantID,
			ChunkIndex:  row.ChunkIndex,
			TotalChunks: row.TotalChunks,
		}
		_ = json.Unmarshal(row.Metadata, &records[i].Metadata)
	}
	return records, nil
}

func (s *Store) CountVectorRecords(ctx context.Context, entryID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM vector_records WHERE entry_id = ?`, entryID)
	return count, err
}

func (s *Store) DeleteVectorRecords(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vector_records WHERE entry_id = ?`, entryID)
	return err
}
