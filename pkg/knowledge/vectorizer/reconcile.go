package vectorizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/chunker"
)

// SyncReport describes the drift between an entry's recorded chunk count
// and what is actually persisted.
type SyncReport struct {
	EntryID      string `json:"entry_id"`
	EntryMissing bool   `json:"entry_missing"`
	ChunkCount   int    `json:"chunk_count"`
	MirrorCount  int    `json:"mirror_count"`
	InSync       bool   `json:"in_sync"`
}

// CheckSync detects drift without changing anything. Drift is non-fatal;
// it only marks the entry as repairable.
func (s *Service) CheckSync(ctx context.Context, entryID string) (SyncReport, error) {
	report := SyncReport{EntryID: entryID}

	mirrorCount, err := s.mirror.CountVectorRecords(ctx, entryID)
	if err != nil {
		return report, fmt.Errorf("counting mirror records for entry %s: %w", entryID, err)
	}
	report.MirrorCount = mirrorCount

	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, knowledge.ErrEntryNotFound) {
			report.EntryMissing = true
			report.InSync = mirrorCount == 0
			return report, nil
		}
		return report, err
	}

	report.ChunkCount = entry.ChunkCount
	report.InSync = !entry.IsVectorized && mirrorCount == 0 ||
		entry.IsVectorized && entry.ChunkCount == mirrorCount
	return report, nil
}

// Repair is the idempotent fix for drift: orphaned records of a deleted
// entry are removed, a mismatched live entry is re-embedded to match.
func (s *Service) Repair(ctx context.Context, entryID string, contentType chunker.ContentType) (SyncReport, error) {
	report, err := s.CheckSync(ctx, entryID)
	if err != nil {
		return report, err
	}
	if report.InSync {
		return report, nil
	}

	if report.EntryMissing {
		s.logger.Info("Deleting orphaned vector records", "entry", entryID, "count", report.MirrorCount)
		if err := s.deleteExistingRecords(ctx, entryID); err != nil {
			return report, err
		}
		return s.CheckSync(ctx, entryID)
	}

	s.logger.Info("Repairing vector drift by re-vectorizing",
		"entry", entryID, "chunk_count", report.ChunkCount, "mirror_count", report.MirrorCount)
	if _, err := s.Revectorize(ctx, entryID, contentType); err != nil {
		return report, err
	}
	return s.CheckSync(ctx, entryID)
}
