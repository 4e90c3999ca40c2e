package crisis

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Seed exemplars for embedding-based similarity. These are canonical
// phrasings per category; the semantic layer catches paraphrases the
// regex lexicon misses ("I want to disappear forever" etc.).
var seedExemplars = []struct {
	Text     string
	Category Category
}{
	{"I want to end my life and nothing can stop me", CategorySelfHarm},
	{"I keep thinking about killing myself", CategorySelfHarm},
	{"I want to disappear and never wake up again", CategorySelfHarm},
	{"I am going to hurt someone who wronged me", CategoryViolence},
	{"I fantasize about making them suffer for what they did", CategoryViolence},
	{"Everything is pointless and I have nothing left", CategoryDespair},
	{"There is no future for me, I have given up completely", CategoryDespair},
	{"I cannot stop drinking no matter how hard I try", CategorySubstanceAbuse},
	{"I used again even though I promised I would quit", CategorySubstanceAbuse},
	{"My chest hurts badly and my arm has gone numb", CategoryMedical},
	{"I feel like I am about to pass out and cannot breathe", CategoryMedical},
}

// SemanticDetector is the optional embedding-similarity layer. It is
// advisory: its signals are merged through Detector.Merge, which can
// raise a turn's risk level but never lower it. Because embeddings come
// from an external model, this layer is off by default; enabling it
// trades the core path's bit-determinism for paraphrase recall.
type SemanticDetector struct {
	db         *chromem.DB
	collection *chromem.Collection
	threshold  float32

	mu    sync.RWMutex
	ready bool
}

// SemanticMatch is the advisory result of a similarity lookup.
type SemanticMatch struct {
	Category   Category `json:"category"`
	Similarity float32  `json:"similarity"`
	Exemplar   string   `json:"exemplar"`
	IsSignal   bool     `json:"is_signal"`
}

// NewSemanticDetector builds the layer around a caller-supplied
// embedding function (local ONNX runner, Ollama, or a hosted API; the
// backend stays chromem-go either way).
func NewSemanticDetector(embed chromem.EmbeddingFunc, threshold float32) (*SemanticDetector, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is nil")
	}
	if threshold <= 0 {
		threshold = 0.65
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection("crisis_exemplars", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &SemanticDetector{
		db:         db,
		collection: collection,
		threshold:  threshold,
	}, nil
}

// LoadExemplars embeds and stores the seed phrases. Must be called once
// before Detect; it is the only call that hits the embedding backend
// for more than one text.
func (sd *SemanticDetector) LoadExemplars(ctx context.Context) error {
	docs := make([]chromem.Document, 0, len(seedExemplars))
	for i, ex := range seedExemplars {
		docs = append(docs, chromem.Document{
			ID:       fmt.Sprintf("exemplar-%d", i),
			Content:  ex.Text,
			Metadata: map[string]string{"category": string(ex.Category)},
		})
	}
	if err := sd.collection.AddDocuments(ctx, docs, 2); err != nil {
		return fmt.Errorf("failed to load exemplars: %w", err)
	}

	sd.mu.Lock()
	sd.ready = true
	sd.mu.Unlock()
	return nil
}

// IsReady reports whether exemplars are loaded.
func (sd *SemanticDetector) IsReady() bool {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	return sd.ready
}

// Detect returns the closest exemplar match for text. A nil match means
// the collection is empty.
func (sd *SemanticDetector) Detect(ctx context.Context, text string) (*SemanticMatch, error) {
	if !sd.IsReady() {
		return nil, fmt.Errorf("semantic detector not initialized")
	}
	if text == "" {
		return nil, nil
	}

	results, err := sd.collection.Query(ctx, text, 1, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	top := results[0]
	return &SemanticMatch{
		Category:   Category(top.Metadata["category"]),
		Similarity: top.Similarity,
		Exemplar:   top.Content,
		IsSignal:   top.Similarity >= sd.threshold,
	}, nil
}

// Signal converts a qualifying match into an advisory crisis signal
// suitable for Detector.Merge. Returns false when the match is below
// threshold.
func (m *SemanticMatch) Signal() (Signal, bool) {
	if m == nil || !m.IsSignal {
		return Signal{}, false
	}
	return Signal{
		Category:       m.Category,
		Severity:       float64(m.Similarity),
		MatchedSpan:    m.Exemplar,
		ContextSnippet: m.Exemplar,
		Source:         "semantic",
	}, true
}
