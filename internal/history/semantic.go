package history

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// questionsCollection names the in-process vector collection.
const questionsCollection = "questions"

// SemanticMatcher matches questions by embedding similarity over an
// in-process vector store. It honours the same reuse contract as the
// exact-hash baseline: a candidate is only proposed with its similarity
// score; validity and threshold gating stay with the history service.
type SemanticMatcher struct {
	collection *chromem.Collection
}

// NewSemanticMatcher creates a matcher backed by an in-memory chromem
// collection. A nil embedding function selects the deterministic built-in
// embedder, so the matcher works without any external model.
func NewSemanticMatcher(embed chromem.EmbeddingFunc) (*SemanticMatcher, error) {
	if embed == nil {
		embed = DeterministicEmbedding(256)
	}

	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection(questionsCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create question collection: %w", err)
	}
	return &SemanticMatcher{collection: collection}, nil
}

// Index implements Matcher.
func (m *SemanticMatcher) Index(ctx context.Context, questionID, question, questionContext string) error {
	err := m.collection.AddDocument(ctx, chromem.Document{
		ID:      questionID,
		Content: normalizeQuestion(question, questionContext),
	})
	if err != nil {
		return fmt.Errorf("index question %s: %w", questionID, err)
	}
	return nil
}

// Match implements Matcher. Returns nil when the collection is empty.
func (m *SemanticMatcher) Match(ctx context.Context, question, questionContext string) (*Candidate, error) {
	if m.collection.Count() == 0 {
		return nil, nil
	}

	results, err := m.collection.Query(ctx, normalizeQuestion(question, questionContext), 1, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	best := results[0]
	return &Candidate{
		QuestionID: best.ID,
		Similarity: float64(best.Similarity),
	}, nil
}

func normalizeQuestion(question, questionContext string) string {
	return strings.ToLower(strings.TrimSpace(question)) + "\n" +
		strings.ToLower(strings.TrimSpace(questionContext))
}

// DeterministicEmbedding returns an embedding function that hashes
// character trigrams into a fixed-size L2-normalized vector. It is cheap
// and fully deterministic: identical text always produces the identical
// vector, which keeps the matcher's safety properties independent of any
// external model.
func DeterministicEmbedding(dims int) chromem.EmbeddingFunc {
	if dims <= 0 {
		dims = 256
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		runes := []rune(strings.ToLower(text))
		if len(runes) == 0 {
			vec[0] = 1
			return vec, nil
		}

		for i := 0; i+3 <= len(runes); i++ {
			h := fnv.New32a()
			_, _ = h.Write([]byte(string(runes[i : i+3])))
			vec[h.Sum32()%uint32(dims)]++
		}
		if len(runes) < 3 {
			h := fnv.New32a()
			_, _ = h.Write([]byte(string(runes)))
			vec[h.Sum32()%uint32(dims)]++
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
		return vec, nil
	}
}
