// Package knowledge defines the retrieval-augmentation collaborator contract.
// The retrieval index itself lives outside this process; this package only
// shapes queries, scores, and the prompt context built from results.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/providers"
)

// Passage is one ranked retrieval result scoped to a tenant's knowledge base.
type Passage struct {
	Title string
	Text  string
	Score float64
}

// Retriever is the knowledge-retrieval collaborator the pipeline consumes.
type Retriever interface {
	Search(ctx context.Context, query, tenantID string, topK int) ([]Passage, error)
}

// VectorSearcher is the external vector-index boundary: given a query vector
// it returns the nearest passages for a tenant. Implemented outside this core
// by the knowledge-base service.
type VectorSearcher interface {
	SearchVectors(ctx context.Context, vector []float32, tenantID string, topK int) ([]Passage, error)
}

// defaultScoreThreshold filters weak matches before they reach the prompt.
const defaultScoreThreshold = 0.5

// EmbeddingRetriever embeds the query text with the configured Embedding
// capability and delegates nearest-neighbor search to the external index.
type EmbeddingRetriever struct {
	logger         *logrus.Logger
	embedder       providers.Embedder
	searcher       VectorSearcher
	scoreThreshold float64
}

// NewEmbeddingRetriever creates a retriever over the given embedder and
// vector index.
func NewEmbeddingRetriever(logger *logrus.Logger, embedder providers.Embedder, searcher VectorSearcher) *EmbeddingRetriever {
	return &EmbeddingRetriever{
		logger:         logger,
		embedder:       embedder,
		searcher:       searcher,
		scoreThreshold: defaultScoreThreshold,
	}
}

// Search implements Retriever.
func (r *EmbeddingRetriever) Search(ctx context.Context, query, tenantID string, topK int) ([]Passage, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for query")
	}

	passages, err := r.searcher.SearchVectors(ctx, vectors[0], tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	filtered := passages[:0]
	for _, p := range passages {
		if p.Score >= r.scoreThreshold {
			filtered = append(filtered, p)
		}
	}

	r.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"top_k":     topK,
		"results":   len(filtered),
	}).Debug("Knowledge search completed")

	return filtered, nil
}

// BuildContext formats ranked passages into the prompt fragment injected
// into the generation system prompt. Returns an empty string when there is
// nothing to inject.
func BuildContext(passages []Passage) string {
	if len(passages) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant information from knowledge base:\n")
	for i, p := range passages {
		title := p.Title
		if title == "" {
			title = "untitled"
		}
		fmt.Fprintf(&b, "\n[Source %d: %s]\n%s", i+1, title, p.Text)
	}
	return b.String()
}
