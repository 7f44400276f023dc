package matching

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
)

const wordsField = "words"

// WordIndex answers "which catalog entry contains this word" using an
// in-memory Bleve index. Each catalog entry is one document holding its
// significant words; document IDs are zero-padded entry positions so that
// sorting by ID returns the earliest entry.
type WordIndex struct {
	index     bleve.Index
	closeOnce sync.Once
	closeErr  error
}

// NewWordIndex indexes one document per entry. docs[i] lists the words of
// entry i.
func NewWordIndex(docs [][]string) (*WordIndex, error) {
	index, err := bleve.NewMemOnly(buildWordMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create word index: %w", err)
	}

	batch := index.NewBatch()
	for i, words := range docs {
		if len(words) == 0 {
			continue
		}
		if err := batch.Index(docID(i), map[string]interface{}{wordsField: words}); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("failed to add entry %d to batch: %w", i, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to execute batch index: %w", err)
	}

	return &WordIndex{index: index}, nil
}

// buildWordMapping stores every word verbatim; inputs are already normalized
func buildWordMapping() mapping.IndexMapping {
	wordFieldMapping := bleve.NewTextFieldMapping()
	wordFieldMapping.Analyzer = keyword.Name
	wordFieldMapping.Store = false
	wordFieldMapping.IncludeTermVectors = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(wordsField, wordFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = keyword.Name
	return indexMapping
}

// Lookup returns the earliest entry whose words include word
func (w *WordIndex) Lookup(word string) (int, bool, error) {
	query := bleve.NewTermQuery(word)
	query.SetField(wordsField)

	req := bleve.NewSearchRequest(query)
	req.Size = 1
	req.SortBy([]string{"_id"})

	res, err := w.index.Search(req)
	if err != nil {
		return 0, false, fmt.Errorf("word search failed: %w", err)
	}
	if len(res.Hits) == 0 {
		return 0, false, nil
	}

	idx, err := strconv.Atoi(res.Hits[0].ID)
	if err != nil {
		return 0, false, fmt.Errorf("unexpected document id %q: %w", res.Hits[0].ID, err)
	}
	return idx, true, nil
}

// DocumentCount returns the number of indexed entries
func (w *WordIndex) DocumentCount() (uint64, error) {
	return w.index.DocCount()
}

// Close closes the index. Later calls return the first result.
func (w *WordIndex) Close() error {
	w.closeOnce.Do(func() {
		if w.index != nil {
			w.closeErr = w.index.Close()
		}
	})
	return w.closeErr
}

func docID(i int) string {
	return fmt.Sprintf("%08d", i)
}
