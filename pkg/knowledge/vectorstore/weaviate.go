package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	weaviateGraphql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

const (
	ClassName           = "KnowledgeChunk"
	contentProperty     = "content"
	entryIDProperty     = "entryId"
	tenantIDProperty    = "tenantId"
	chunkIndexProperty  = "chunkIndex"
	totalChunksProperty = "totalChunks"
	metadataProperty    = "metadataJson"
)

// Hit is one nearest-neighbor result, already mapped back to its source
// entry. Certainty is Weaviate's [0,1] similarity.
type Hit struct {
	VectorID   string
	EntryID    string
	ChunkIndex int
	Certainty  float64
}

// Index is the vector index contract the engine and vectorizer consume.
type Index interface {
	EnsureSchemaExists(ctx context.Context) error
	UpsertBatch(ctx context.Context, objects []*models.Object) error
	Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]Hit, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

// WeaviateIndex implements Index against a Weaviate instance.
type WeaviateIndex struct {
	client *weaviate.Client
	logger *log.Logger
}

var _ Index = (*WeaviateIndex)(nil)

func New(client *weaviate.Client, logger *log.Logger) *WeaviateIndex {
	return &WeaviateIndex{client: client, logger: logger}
}

// EnsureSchemaExists creates the KnowledgeChunk class if it is missing.
// Vectors are supplied by the caller, so the class carries no vectorizer.
func (s *WeaviateIndex) EnsureSchemaExists(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(ClassName).Do(ctx)
	if err != nil {
		return fmt.Errorf("checking class existence for '%s': %w", ClassName, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      ClassName,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: contentProperty, DataType: []string{"text"}},
			{Name: entryIDProperty, DataType: []string{"text"}},
			{Name: tenantIDProperty, DataType: []string{"text"}},
			{Name: chunkIndexProperty, DataType: []string{"int"}},
			{Name: totalChunksProperty, DataType: []string{"int"}},
			{Name: metadataProperty, DataType: []string{"text"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("creating class '%s': %w", ClassName, err)
	}
	s.logger.Info("Created vector index class", "class", ClassName)
	return nil
}

// BuildObject converts a mirror record plus its chunk into a Weaviate
// object carrying an explicit vector.
func BuildObject(record knowledge.VectorRecord, chunk knowledge.Chunk, vector []float64) *models.Object {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}
	return &models.Object{
		Class: ClassName,
		ID:    strfmt.UUID(record.VectorID),
		Properties: map[string]interface{}{
			contentProperty:     chunk.Text,
			entryIDProperty:     record.EntryID,
			tenantIDProperty:    record.TenantID,
			chunkIndexProperty:  chunk.Index,
			totalChunksProperty: chunk.TotalChunks,
			metadataProperty:    string(metadataJSON),
		},
		Vector: ToFloat32(vector),
	}
}

// UpsertBatch stores objects through the batch API in one round trip.
func (s *WeaviateIndex) UpsertBatch(ctx context.Context, objects []*models.Object) error {
	if len(objects) == 0 {
		return nil
	}

	batcher := s.client.Batch().ObjectsBatcher()
	for _, obj := range objects {
		batcher = batcher.WithObjects(obj)
	}

	result, err := batcher.Do(ctx)
	if err != nil {
		return fmt.Errorf("batch storing objects: %w", err)
	}
	for _, obj := range result {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("object error: %s", obj.Result.Errors.Error[0].Message)
		}
	}

	s.logger.Debug("Batch stored objects", "count", len(objects))
	return nil
}

// Search runs a tenant-scoped nearVector query.
func (s *WeaviateIndex) Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]Hit, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	where := filters.Where().
		WithPath([]string{tenantIDProperty}).
		WithOperator(filters.Equal).
		WithValueText(tenantID)

	fields := []weaviateGraphql.Field{
		{Name: entryIDProperty},
		{Name: chunkIndexProperty},
		{
			Name: "_additional",
			Fields: []weaviateGraphql.Field{
				{Name: "id"},
				{Name: "certainty"},
			},
		},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("executing nearVector query: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("nearVector query returned errors: %s", resp.Errors[0].Message)
	}

	data, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected structure for GraphQL response data 'Get'")
	}
	classData, ok := data[ClassName].([]interface{})
	if !ok {
		return []Hit{}, nil
	}

	var hits []Hit
	for _, item := range classData {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		additional, _ := itemMap["_additional"].(map[string]interface{})

		var hit Hit
		hit.VectorID, _ = additional["id"].(string)
		hit.EntryID, _ = itemMap[entryIDProperty].(string)
		if certainty, ok := additional["certainty"].(float64); ok {
			hit.Certainty = certainty
		}
		if idx, ok := itemMap[chunkIndexProperty].(float64); ok {
			hit.ChunkIndex = int(idx)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteByIDs removes index objects one by one. Weaviate has no batch
// delete by id list, so failures are aggregated into the first error.
func (s *WeaviateIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	var firstErr error
	for _, id := range ids {
		err := s.client.Data().Deleter().
			WithClassName(ClassName).
			WithID(id).
			Do(ctx)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("deleting object %s: %w", id, err)
		}
	}
	return firstErr
}

// ToFloat32 narrows an embedding for the index API.
func ToFloat32(vector []float64) []float32 {
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(v)
	}
	return out
}
