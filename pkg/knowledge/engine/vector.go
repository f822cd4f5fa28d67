package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/vectorstore"
)

// vectorScores embeds the scan window once and returns the best
// similarity per source entry, ranked. An entry with several surfacing
// chunks keeps only its best score.
func (e *Engine) vectorScores(ctx context.Context, messages []knowledge.Message, entries []knowledge.Entry) (map[string]rankedScore, error) {
	scanDepth := 0
	topK := 0
	for _, entry := range entries {
		if entry.Activation.ScanDepth > scanDepth {
			scanDepth = entry.Activation.ScanDepth
		}
		if entry.Activation.MaxVectorResults > topK {
			topK = entry.Activation.MaxVectorResults
		}
	}
	if scanDepth == 0 {
		scanDepth = knowledge.DefaultScanDepth
	}
	if topK == 0 {
		topK = knowledge.DefaultMaxVectorResults
	}

	// One embed serves every vector entry, so the shared window scans
	// the union of the entries' enabled roles.
	union := knowledge.ActivationRule{ScanDepth: scanDepth}
	for _, entry := range entries {
		union.MatchInUser = union.MatchInUser || entry.Activation.MatchInUser
		union.MatchInBot = union.MatchInBot || entry.Activation.MatchInBot
		union.MatchInSystem = union.MatchInSystem || entry.Activation.MatchInSystem
	}
	window := ScanWindow(messages, union)
	queryText := strings.TrimSpace(strings.Join(window, "\n"))
	if queryText == "" {
		return map[string]rankedScore{}, nil
	}

	vector, err := e.embedder.Embedding(ctx, queryText, e.embeddingsModel)
	if err != nil {
		return nil, err
	}

	// Chunk-level hits can repeat an entry; over-fetch so dedupe still
	// leaves topK distinct entries.
	hits, err := e.searcher.Search(ctx, e.tenantID, vectorstore.ToFloat32(vector), topK*4)
	if err != nil {
		return nil, err
	}

	best := make(map[string]float64)
	for _, hit := range hits {
		if hit.EntryID == "" {
			continue
		}
		if score, ok := best[hit.EntryID]; !ok || hit.Certainty > score {
			best[hit.EntryID] = hit.Certainty
		}
	}

	type entryScore struct {
		entryID string
		score   float64
	}
	ranked := make([]entryScore, 0, len(best))
	for entryID, score := range best {
		ranked = append(ranked, entryScore{entryID, score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	scores := make(map[string]rankedScore, len(ranked))
	for rank, item := range ranked {
		scores[item.entryID] = rankedScore{Score: item.score, Rank: rank}
	}
	return scores, nil
}

// rankedScore is an entry's best chunk similarity and its position in
// the turn's dedupe ranking (0 = best).
type rankedScore struct {
	Score float64
	Rank  int
}

// vectorMatched applies the entry's own floor and result cap to the
// turn-wide ranking.
func vectorMatched(scores map[string]rankedScore, entry knowledge.Entry) (float64, bool) {
	ranked, ok := scores[entry.ID]
	if !ok {
		return 0, false
	}
	if ranked.Score < entry.Activation.VectorSimilarityThreshold {
		return ranked.Score, false
	}
	if ranked.Rank >= entry.Activation.MaxVectorResults {
		return ranked.Score, false
	}
	return ranked.Score, true
}
