package vectorizer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/glimmer-ai/lorekeeper/pkg/ai"
	"github.com/glimmer-ai/lorekeeper/pkg/helpers"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/chunker"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/vectorstore"
)

const embedBatchSize = 128

// EntryStore is the slice of the persistence collaborator this pipeline
// needs: reading entries and writing back vectorization status.
type EntryStore interface {
	GetEntry(ctx context.Context, id string) (*knowledge.Entry, error)
	SetVectorizationStatus(ctx context.Context, id string, vectorized bool, chunkCount int) error
}

// MirrorStore is the durable mirror of index records.
type MirrorStore interface {
	InsertVectorRecord(ctx context.Context, record knowledge.VectorRecord) error
	ListVectorRecords(ctx context.Context, entryID string) ([]knowledge.VectorRecord, error)
	CountVectorRecords(ctx context.Context, entryID string) (int, error)
	DeleteVectorRecords(ctx context.Context, entryID string) error
}

// Service turns entry text into persisted vectors: chunk, embed, mirror,
// index.
type Service struct {
	entries         EntryStore
	mirror          MirrorStore
	index           vectorstore.Index
	embedder        ai.Embedding
	logger          *log.Logger
	embeddingsModel string
	tenantID        string
}

func NewService(
	entries EntryStore,
	mirror MirrorStore,
	index vectorstore.Index,
	embedder ai.Embedding,
	logger *log.Logger,
	embeddingsModel string,
	tenantID string,
) *Service {
	return &Service{
		entries:         entries,
		mirror:          mirror,
		index:           index,
		embedder:        embedder,
		logger:          logger,
		embeddingsModel: embeddingsModel,
		tenantID:        tenantID,
	}
}

// vectorID synthesizes a unique, reconstructable id for a chunk vector.
// The nonce varies per vectorization run so re-vectorizing never reuses
// an id that a crashed earlier run may have left behind.
func vectorID(entryID string, chunkIndex int, nonce string) string {
	name := fmt.Sprintf("%s:%d:%s", entryID, chunkIndex, nonce)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Vectorize chunks the entry, embeds every chunk in batched calls, and
// replaces all prior records (index and mirror) with the new set.
func (s *Service) Vectorize(ctx context.Context, entry knowledge.Entry, contentType chunker.ContentType) (int, error) {
	chunks := chunker.Split(entry.Content, chunker.ConfigFor(contentType))
	if len(chunks) == 0 {
		s.logger.Warn("Entry has no chunkable content", "entry", entry.ID)
		return 0, s.entries.SetVectorizationStatus(ctx, entry.ID, false, 0)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	var embeddings [][]float64
	for _, batch := range helpers.Batch(texts, embedBatchSize) {
		batchEmbeddings, err := s.embedder.Embeddings(ctx, batch, s.embeddingsModel)
		if err != nil {
			return 0, fmt.Errorf("embedding %d chunks for entry %s: %w", len(batch), entry.ID, err)
		}
		embeddings = append(embeddings, batchEmbeddings...)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch for entry %s: %d chunks, %d vectors", entry.ID, len(chunks), len(embeddings))
	}

	// Old records go first so a re-vectorization can never leave
	// duplicates behind. An index-side delete failure is logged and
	// skipped; the reconciliation pass repairs the drift later.
	if err := s.deleteExistingRecords(ctx, entry.ID); err != nil {
		return 0, err
	}

	nonce := uuid.New().String()
	objects := make([]*models.Object, 0, len(chunks))
	for i, chunk := range chunks {
		record := knowledge.VectorRecord{
			VectorID:    vectorID(entry.ID, chunk.Index, nonce),
			EntryID:     entry.ID,
			TenantID:    s.tenantID,
			ChunkIndex:  chunk.Index,
			TotalChunks: chunk.TotalChunks,
			Metadata: map[string]string{
				"collection_id": entry.CollectionID,
				"nonce":         nonce,
				"chunk_index":   strconv.Itoa(chunk.Index),
			},
		}
		if err := s.mirror.InsertVectorRecord(ctx, record); err != nil {
			return 0, fmt.Errorf("mirroring vector record %s: %w", record.VectorID, err)
		}
		objects = append(objects, vectorstore.BuildObject(record, chunk, embeddings[i]))
	}

	if err := s.index.UpsertBatch(ctx, objects); err != nil {
		return 0, fmt.Errorf("upserting %d vectors for entry %s: %w", len(objects), entry.ID, err)
	}

	if err := s.entries.SetVectorizationStatus(ctx, entry.ID, true, len(chunks)); err != nil {
		return 0, err
	}

	s.logger.Info("Vectorized entry", "entry", entry.ID, "chunks", len(chunks))
	return len(chunks), nil
}

func (s *Service) deleteExistingRecords(ctx context.Context, entryID string) error {
	existing, err := s.mirror.ListVectorRecords(ctx, entryID)
	if err != nil {
		return fmt.Errorf("listing mirror records for entry %s: %w", entryID, err)
	}
	if len(existing) == 0 {
		return nil
	}

	ids := lo.Map(existing, func(record knowledge.VectorRecord, _ int) string { return record.VectorID })
	if err := s.index.DeleteByIDs(ctx, ids); err != nil {
		s.logger.Error("Failed to delete old index records, proceeding", "entry", entryID, "error", err)
	}
	return s.mirror.DeleteVectorRecords(ctx, entryID)
}

// VectorizeInBackground launches vectorization without blocking entry
// creation. The return value reports only whether the attempt started;
// failure never rolls back the entry.
func (s *Service) VectorizeInBackground(entry knowledge.Entry, contentType chunker.ContentType) bool {
	go func() {
		ctx := context.Background()
		if _, err := s.Vectorize(ctx, entry, contentType); err != nil {
			s.logger.Error("Background vectorization failed", "entry", entry.ID, "error", err)
		}
	}()
	return true
}

// Revectorize re-runs the pipeline for a stored entry. A missing entry
// reports not-found with no partial state changes.
func (s *Service) Revectorize(ctx context.Context, entryID string, contentType chunker.ContentType) (int, error) {
	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return 0, err
	}
	return s.Vectorize(ctx, *entry, contentType)
}
