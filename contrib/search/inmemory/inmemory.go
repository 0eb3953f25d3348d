// Package inmemory provides a process-local hybrid search backend. It exists
// for tests and examples; production deployments use the REST backend.
package inmemory

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sweetpotato0/grounded/search"
	"github.com/sweetpotato0/grounded/vector"
)

const summaryRunes = 240

// Service keeps documents in memory and scores them with keyword overlap
// plus cosine similarity when the query carries an embedding.
type Service struct {
	mu       sync.RWMutex
	docs     []search.Result
	byID     map[string]int
	embedder vector.Embedder
	vectors  map[string][]float32
}

// New creates an empty service. embedder may be nil; keyword scoring still
// works without it.
func New(embedder vector.Embedder) *Service {
	return &Service{
		byID:     make(map[string]int),
		embedder: embedder,
		vectors:  make(map[string][]float32),
	}
}

// Upsert adds or replaces documents by id, embedding their content when an
// embedder is configured.
func (s *Service) Upsert(ctx context.Context, docs ...search.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		if doc.ID == "" {
			continue
		}
		if s.embedder != nil && doc.Content != "" {
			vec, err := s.embedder.Embed(ctx, doc.Content)
			if err != nil {
				return err
			}
			s.vectors[doc.ID] = vec
		}
		if idx, ok := s.byID[doc.ID]; ok {
			s.docs[idx] = doc
			continue
		}
		s.byID[doc.ID] = len(s.docs)
		s.docs = append(s.docs, doc)
	}
	return nil
}

// Count returns how many documents are stored.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

var idFilterPattern = regexp.MustCompile(`^id eq '([^']+)'$`)

// Search implements search.Service.
func (s *Service) Search(ctx context.Context, query string, opts search.Options) (*search.Results, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m := idFilterPattern.FindStringSubmatch(strings.TrimSpace(opts.Filter)); m != nil {
		return s.lookupByID(m[1], opts), nil
	}

	terms := tokenize(query)
	scored := make([]search.Result, 0)
	for _, doc := range s.docs {
		if opts.Index != "" && docIndex(doc) != opts.Index {
			continue
		}
		score := keywordScore(terms, doc)
		if len(opts.Vector) > 0 {
			if vec, ok := s.vectors[doc.ID]; ok {
				score = score*0.5 + vector.CosineSimilarity(opts.Vector, vec)*0.5
			}
		}
		if score <= 0 {
			continue
		}
		doc.Score = score
		if opts.SemanticRank {
			// This backend has no separate reranker; reuse the hybrid
			// score so callers relying on RerankScore still work.
			doc.RerankScore = score * 4
		}
		scored = append(scored, doc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	top := opts.Top
	if top <= 0 || top > len(scored) {
		top = len(scored)
	}
	scored = scored[:top]

	if opts.SummaryOnly {
		for i := range scored {
			scored[i].Content = summarize(scored[i].Content)
		}
	}
	return &search.Results{Results: scored, Count: len(scored)}, nil
}

func (s *Service) lookupByID(id string, opts search.Options) *search.Results {
	idx, ok := s.byID[id]
	if !ok {
		return &search.Results{}
	}
	doc := s.docs[idx]
	if opts.SummaryOnly {
		doc.Content = summarize(doc.Content)
	}
	return &search.Results{Results: []search.Result{doc}, Count: 1}
}

func docIndex(doc search.Result) string {
	if doc.Metadata == nil {
		return ""
	}
	if idx, ok := doc.Metadata["index"].(string); ok {
		return idx
	}
	return ""
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?()[]{}\"'")
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func keywordScore(terms []string, doc search.Result) float32 {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(doc.Title + " " + doc.Content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			matched++
		}
	}
	return float32(matched) / float32(len(terms))
}

func summarize(content string) string {
	runes := []rune(content)
	if len(runes) <= summaryRunes {
		return content
	}
	return string(runes[:summaryRunes])
}

var (
	_ search.Service  = (*Service)(nil)
	_ search.Upserter = (*Service)(nil)
)
