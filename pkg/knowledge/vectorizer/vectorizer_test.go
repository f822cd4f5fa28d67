package vectorizer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/chunker"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/vectorstore"
)

type fakeEntryStore struct {
	entries map[string]knowledge.Entry
	status  map[string]int
}

func newFakeEntryStore(entries ...knowledge.Entry) *fakeEntryStore {
	store := &fakeEntryStore{entries: map[string]knowledge.Entry{}, status: map[string]int{}}
	for _, entry := range entries {
		store.entries[entry.ID] = entry
	}
	return store
}

func (f *fakeEntryStore) GetEntry(_ context.Context, id string) (*knowledge.Entry, error) {
	entry, ok := f.entries[id]
	if !ok {
		return nil, knowledge.ErrEntryNotFound
	}
	return &entry, nil
}

func (f *fakeEntryStore) SetVectorizationStatus(_ context.Context, id string, vectorized bool, chunkCount int) error {
	if !vectorized {
		chunkCount = 0
	}
	f.status[id] = chunkCount
	entry, ok := f.entries[id]
	if ok {
		entry.IsVectorized = vectorized
		entry.ChunkCount = chunkCount
		f.entries[id] = entry
	}
	return nil
}

type fakeMirror struct {
	records map[string][]knowledge.VectorRecord
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{records: map[string][]knowledge.VectorRecord{}}
}

func (f *fakeMirror) InsertVectorRecord(_ context.Context, record knowledge.VectorRecord) error {
	f.records[record.EntryID] = append(f.records[record.EntryID], record)
	return nil
}

func (f *fakeMirror) ListVectorRecords(_ context.Context, entryID string) ([]knowledge.VectorRecord, error) {
	return f.records[entryID], nil
}

func (f *fakeMirror) CountVectorRecords(_ context.Context, entryID string) (int, error) {
	return len(f.records[entryID]), nil
}

func (f *fakeMirror) DeleteVectorRecords(_ context.Context, entryID string) error {
	delete(f.records, entryID)
	return nil
}

type fakeIndex struct {
	objects    map[string]*models.Object
	deleteErr  error
	upsertErr  error
	deletedIDs []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{objects: map[string]*models.Object{}}
}

func (f *fakeIndex) EnsureSchemaExists(context.Context) error { return nil }

func (f *fakeIndex) UpsertBatch(_ context.Context, objects []*models.Object) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, object := range objects {
		f.objects[string(object.ID)] = object
	}
	return nil
}

func (f *fakeIndex) Search(context.Context, string, []float32, int) ([]vectorstore.Hit, error) {
	return nil, nil
}

func (f *fakeIndex) DeleteByIDs(_ context.Context, ids []string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for _, id := range ids {
		delete(f.objects, id)
		f.deletedIDs = append(f.deletedIDs, id)
	}
	return nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embedding(ctx context.Context, input string, model string) ([]float64, error) {
	vectors, err := f.Embeddings(ctx, []string{input}, model)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) Embeddings(_ context.Context, inputs []string, _ string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(inputs))
	for i := range out {
		out[i] = []float64{0.5, 0.5}
	}
	return out, nil
}

func testService(entries *fakeEntryStore, mirror *fakeMirror, index *fakeIndex, embedder *fakeEmbedder) *Service {
	return NewService(entries, mirror, index, embedder, log.New(io.Discard), "test-model", "tenant-1")
}

func longEntry(id string) knowledge.Entry {
	return knowledge.Entry{
		ID:           id,
		CollectionID: "col-1",
		Content:      strings.Repeat("The archive holds many sealed records. ", 100),
	}
}

func TestVectorizeChunkVectorParity(t *testing.T) {
	entry := longEntry("e1")
	entries := newFakeEntryStore(entry)
	mirror := newFakeMirror()
	index := newFakeIndex()
	service := testService(entries, mirror, index, &fakeEmbedder{})

	chunkCount, err := service.Vectorize(context.Background(), entry, chunker.ContentTypeGeneric)
	require.NoError(t, err)
	require.Greater(t, chunkCount, 1)

	mirrorCount, err := mirror.CountVectorRecords(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, chunkCount, mirrorCount)
	assert.Len(t, index.objects, chunkCount)
	assert.Equal(t, chunkCount, entries.status["e1"])
}

func TestVectorizeReplacesOldRecords(t *testing.T) {
	entry := longEntry("e1")
	entries := newFakeEntryStore(entry)
	mirror := newFakeMirror()
	index := newFakeIndex()
	service := testService(entries, mirror, index, &fakeEmbedder{})

	first, err := service.Vectorize(context.Background(), entry, chunker.ContentTypeGeneric)
	require.NoError(t, err)
	firstIDs := make(map[string]bool)
	for _, record := range mirror.records["e1"] {
		firstIDs[record.VectorID] = true
	}

	second, err := service.Vectorize(context.Background(), entry, chunker.ContentTypeGeneric)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// No duplicates: the mirror holds exactly one generation, and every
	// first-generation id was deleted from the index.
	assert.Len(t, mirror.records["e1"], second)
	assert.Len(t, index.objects, second)
	assert.Len(t, index.deletedIDs, first)
	for _, record := range mirror.records["e1"] {
		assert.False(t, firstIDs[record.VectorID], "vector id reused across runs")
	}
}

func TestVectorizeIndexDeleteFailureIsNonFatal(t *testing.T) {
	entry := longEntry("e1")
	entries := newFakeEntryStore(entry)
	mirror := newFakeMirror()
	index := newFakeIndex()
	service := testService(entries, mirror, index, &fakeEmbedder{})

	_, err := service.Vectorize(context.Background(), entry, chunker.ContentTypeGeneric)
	require.NoError(t, err)

	index.deleteErr = errors.New("index unavailable")
	chunkCount, err := service.Vectorize(context.Background(), entry, chunker.ContentTypeGeneric)
	require.NoError(t, err)
	assert.Len(t, mirror.records["e1"], chunkCount)
}

func TestVectorizeEmbeddingFailure(t *testing.T) {
	entry := longEntry("e1")
	entries := newFakeEntryStore(entry)
	mirror := newFakeMirror()
	service := testService(entries, mirror, newFakeIndex(), &fakeEmbedder{err: errors.New("model down")})

	_, err := service.Vectorize(context.Background(), entry, chunker.ContentTypeGeneric)
	require.Error(t, err)
	assert.Empty(t, mirror.records["e1"])
	assert.NotContains(t, entries.status, "e1")
}

func TestRevectorizeMissingEntry(t *testing.T) {
	service := testService(newFakeEntryStore(), newFakeMirror(), newFakeIndex(), &fakeEmbedder{})
	_, err := service.Revectorize(context.Background(), "ghost", chunker.ContentTypeGeneric)
	assert.ErrorIs(t, err, knowledge.ErrEntryNotFound)
}

func TestCheckSyncAndRepair(t *testing.T) {
	entry := longEntry("e1")
	entries := newFakeEntryStore(entry)
	mirror := newFakeMirror()
	index := newFakeIndex()
	service := testService(entries, mirror, index, &fakeEmbedder{})

	chunkCount, err := service.Vectorize(context.Background(), entry, chunker.ContentTypeGeneric)
	require.NoError(t, err)

	report, err := service.CheckSync(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, report.InSync)
	assert.Equal(t, chunkCount, report.MirrorCount)

	// Simulate a crash that lost part of the mirror.
	mirror.records["e1"] = mirror.records["e1"][:1]
	report, err = service.CheckSync(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, report.InSync)

	repaired, err := service.Repair(context.Background(), "e1", chunker.ContentTypeGeneric)
	require.NoError(t, err)
	assert.True(t, repaired.InSync)
	assert.Equal(t, chunkCount, repaired.MirrorCount)

	// Repair is idempotent.
	again, err := service.Repair(context.Background(), "e1", chunker.ContentTypeGeneric)
	require.NoError(t, err)
	assert.True(t, again.InSync)
}

func TestRepairDeletesOrphans(t *testing.T) {
	mirror := newFakeMirror()
	mirror.records["ghost"] = []knowledge.VectorRecord{{VectorID: "v1", EntryID: "ghost"}}
	index := newFakeIndex()
	service := testService(newFakeEntryStore(), mirror, index, &fakeEmbedder{})

	report, err := service.Repair(context.Background(), "ghost", chunker.ContentTypeGeneric)
	require.NoError(t, err)
	assert.True(t, report.EntryMissing)
	assert.True(t, report.InSync)
	assert.Empty(t, mirror.records["ghost"])
}

func TestVectorIDDeterministicPerNonce(t *testing.T) {
	assert.Equal(t, vectorID("e1", 0, "n1"), vectorID("e1", 0, "n1"))
	assert.NotEqual(t, vectorID("e1", 0, "n1"), vectorID("e1", 0, "n2"))
	assert.NotEqual(t, vectorID("e1", 0, "n1"), vectorID("e1", 1, "n1"))
}
