// Package memory holds the per-session conversational state: the ordered
// conversation transcript and the document chunks available for context
// retrieval.
package memory

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/modelfleet/modelfleet/models"
)

// Store owns one conversation and its document map. All operations are
// safe for concurrent use and never fail for structurally valid input.
type Store struct {
	mu     sync.RWMutex
	turns  []models.Turn
	docs   map[string][]models.DocumentChunk
	order  []string // file insertion order, drives retrieval determinism
	index  bleve.Index
	logger *log.Logger
}

// chunkDoc is the indexed representation of a chunk.
type chunkDoc struct {
	Text     string `json:"text"`
	FileName string `json:"file_name"`
}

// NewStore creates an empty store with an in-memory search index.
func NewStore(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		// Keyword retrieval still works without the ranked index.
		logger.Printf("bleve index unavailable: %v", err)
		idx = nil
	}
	return &Store{
		docs:   make(map[string][]models.DocumentChunk),
		index:  idx,
		logger: logger,
	}
}

// AddMessage appends a turn to the conversation. History is append-only
// and never rewritten.
func (s *Store) AddMessage(t models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
}

// Conversation returns a copy of the conversation in insertion order.
func (s *Store) Conversation() []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// AddDocument stores the ordered chunk sequence under fileID, replacing
// any prior sequence for that id.
func (s *Store) AddDocument(fileID string, chunks []models.DocumentChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.docs[fileID]; ok {
		s.unindex(fileID, len(prior))
	} else {
		s.order = append(s.order, fileID)
	}
	stored := make([]models.DocumentChunk, len(chunks))
	copy(stored, chunks)
	s.docs[fileID] = stored
	if s.index != nil {
		for _, c := range stored {
			if err := s.index.Index(chunkKey(fileID, c.Index), chunkDoc{Text: c.Text, FileName: c.FileName}); err != nil {
				s.logger.Printf("indexing chunk %s/%d: %v", fileID, c.Index, err)
			}
		}
	}
}

// RemoveDocument deletes the entry for fileID. Unknown ids are a no-op.
func (s *Store) RemoveDocument(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.docs[fileID]
	if !ok {
		return
	}
	s.unindex(fileID, len(prior))
	delete(s.docs, fileID)
	for i, id := range s.order {
		if id == fileID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) unindex(fileID string, count int) {
	if s.index == nil {
		return
	}
	for i := 1; i <= count; i++ {
		if err := s.index.Delete(chunkKey(fileID, i)); err != nil {
			s.logger.Printf("unindexing chunk %s/%d: %v", fileID, i, err)
		}
	}
}

func chunkKey(fileID string, index int) string {
	return fmt.Sprintf("%s#%d", fileID, index)
}

// RelevantContext returns every stored chunk whose lowercased text
// contains at least one lowercased whitespace-delimited term of query.
// Results follow file insertion order, then chunk order, so output is
// deterministic for a fixed store state.
func (s *Store) RelevantContext(query string) []models.DocumentChunk {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DocumentChunk
	for _, fileID := range s.order {
		for _, c := range s.docs[fileID] {
			text := strings.ToLower(c.Text)
			for _, term := range terms {
				if strings.Contains(text, term) {
					out = append(out, c)
					break
				}
			}
		}
	}
	return out
}

// SearchChunks runs a ranked full-text query over the stored chunks and
// returns up to k results in relevance order. It complements the
// substring matching of RelevantContext for the console's search box.
func (s *Store) SearchChunks(query string, k int) []models.DocumentChunk {
	if s.index == nil || k <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), k, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		s.logger.Printf("chunk search failed: %v", err)
		return nil
	}
	var out []models.DocumentChunk
	for _, hit := range res.Hits {
		fileID, idx, ok := parseChunkKey(hit.ID)
		if !ok {
			continue
		}
		for _, c := range s.docs[fileID] {
			if c.Index == idx {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func parseChunkKey(key string) (string, int, bool) {
	i := strings.LastIndex(key, "#")
	if i < 0 {
		return "", 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(key[i+1:], "%d", &idx); err != nil {
		return "", 0, false
	}
	return key[:i], idx, true
}

// ChatHistory renders the conversation as a transcript suitable for
// prompt injection, one line per turn in insertion order.
func (s *Store) ChatHistory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b strings.Builder
	for _, t := range s.turns {
		if t.Role == models.RoleAssistant && t.Model != "" {
			fmt.Fprintf(&b, "%s (%s): %s\n", t.Role, t.Model, t.Content)
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

// Clear empties the conversation and the document map atomically with
// respect to concurrent readers.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fileID, chunks := range s.docs {
		s.unindex(fileID, len(chunks))
	}
	s.turns = nil
	s.docs = make(map[string][]models.DocumentChunk)
	s.order = nil
}
