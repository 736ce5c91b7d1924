package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-server/pkg/providers"
)

type fakeSearcher struct {
	passages []Passage
	err      error

	gotTenant string
	gotTopK   int
	gotVector []float32
}

func (f *fakeSearcher) SearchVectors(ctx context.Context, vector []float32, tenantID string, topK int) ([]Passage, error) {
	f.gotVector = vector
	f.gotTenant = tenantID
	f.gotTopK = topK
	return f.passages, f.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestEmbeddingRetriever_Search(t *testing.T) {
	searcher := &fakeSearcher{
		passages: []Passage{
			{Title: "Returns policy", Text: "Returns accepted within 30 days.", Score: 0.91},
			{Title: "Shipping", Text: "We ship worldwide.", Score: 0.62},
			{Title: "Noise", Text: "Weak match.", Score: 0.31},
		},
	}
	retriever := NewEmbeddingRetriever(testLogger(), &providers.MockEmbedder{}, searcher)

	passages, err := retriever.Search(context.Background(), "what is your returns policy", "tenant-1", 5)
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", searcher.gotTenant)
	assert.Equal(t, 5, searcher.gotTopK)
	assert.NotEmpty(t, searcher.gotVector)

	// The low-score passage is filtered out
	require.Len(t, passages, 2)
	assert.Equal(t, "Returns policy", passages[0].Title)
}

func TestEmbeddingRetriever_EmbedderFailure(t *testing.T) {
	retriever := NewEmbeddingRetriever(testLogger(),
		&providers.MockEmbedder{Err: errors.New("quota exceeded")},
		&fakeSearcher{})

	_, err := retriever.Search(context.Background(), "hello", "tenant-1", 3)
	require.Error(t, err)
}

func TestEmbeddingRetriever_SearcherFailure(t *testing.T) {
	retriever := NewEmbeddingRetriever(testLogger(),
		&providers.MockEmbedder{},
		&fakeSearcher{err: errors.New("index unavailable")})

	_, err := retriever.Search(context.Background(), "hello", "tenant-1", 3)
	require.Error(t, err)
}

func TestBuildContext(t *testing.T) {
	passages := []Passage{
		{Title: "Hours", Text: "Open 9-5 weekdays.", Score: 0.8},
		{Title: "", Text: "Anonymous snippet.", Score: 0.7},
	}

	ctx := BuildContext(passages)
	assert.True(t, strings.HasPrefix(ctx, "Relevant information from knowledge base:"))
	assert.Contains(t, ctx, "[Source 1: Hours]\nOpen 9-5 weekdays.")
	assert.Contains(t, ctx, "[Source 2: untitled]\nAnonymous snippet.")
}

func TestBuildContext_Empty(t *testing.T) {
	assert.Equal(t, "", BuildContext(nil))
	assert.Equal(t, "", BuildContext([]Passage{}))
}
