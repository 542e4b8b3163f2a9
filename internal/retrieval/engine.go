package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"rolechat/internal/embedding"
)

// Engine ranks corpus passages against a query. Candidate passages are
// those tagged with the requested role plus all background passages.
type Engine struct {
	passages []Passage
	embedder embedding.Engine
	logger   *zap.Logger

	// Query results are cached briefly; consecutive turns in the same
	// conversation often repeat near-identical queries.
	cache *gocache.Cache

	indexOnce sync.Once
	indexErr  error
	vectors   [][]float32
}

// Config holds engine construction parameters.
type Config struct {
	ChunksPath     string
	BackgroundPath string
	CacheTTL       time.Duration
}

// NewEngine loads the corpus and prepares the engine. Embedding vectors
// are computed lazily on first retrieval so startup stays fast; pass a
// nil embedder to use keyword scoring only.
func NewEngine(cfg Config, embedder embedding.Engine, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	chunks, err := LoadChunks(cfg.ChunksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load dialogue chunks: %w", err)
	}
	background, err := LoadBackground(cfg.BackgroundPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load background passages: %w", err)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	logger.Info("retrieval corpus loaded",
		zap.Int("chunks", len(chunks)),
		zap.Int("background", len(background)))

	return &Engine{
		passages: append(chunks, background...),
		embedder: embedder,
		logger:   logger,
		cache:    gocache.New(ttl, 2*ttl),
	}, nil
}

// NewEngineFromPassages builds an engine over an in-memory corpus.
func NewEngineFromPassages(passages []Passage, embedder embedding.Engine, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		passages: passages,
		embedder: embedder,
		logger:   logger,
		cache:    gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// Retrieve returns up to k passages relevant to query, restricted to
// passages tagged with role or of background type.
func (e *Engine) Retrieve(ctx context.Context, query, role string, k int) ([]Passage, error) {
	if k <= 0 {
		k = 15
	}

	cacheKey := role + "\x00" + query
	if cached, ok := e.cache.Get(cacheKey); ok {
		return cached.([]Passage), nil
	}

	candidates := e.candidates(role)
	if len(candidates) == 0 {
		return nil, nil
	}

	var ranked []Passage
	var err error
	if e.embedder != nil {
		ranked, err = e.rankByEmbedding(ctx, query, candidates, k)
		if err != nil {
			// Embedding backends are network services; degrade to
			// keyword scoring instead of failing the turn.
			e.logger.Warn("embedding ranking failed, falling back to keyword scoring", zap.Error(err))
			ranked = rankByKeywords(query, candidates, k)
		}
	} else {
		ranked = rankByKeywords(query, candidates, k)
	}

	e.cache.Set(cacheKey, ranked, gocache.DefaultExpiration)
	return ranked, nil
}

type candidate struct {
	passage Passage
	corpus  int // index into e.passages, for vector lookup
}

func (e *Engine) candidates(role string) []candidate {
	var out []candidate
	for i := range e.passages {
		p := &e.passages[i]
		if p.Type == TypeBackground || p.HasRole(role) {
			out = append(out, candidate{passage: *p, corpus: i})
		}
	}
	return out
}

// ensureIndex embeds the whole corpus once.
func (e *Engine) ensureIndex(ctx context.Context) error {
	e.indexOnce.Do(func() {
		texts := make([]string, len(e.passages))
		for i, p := range e.passages {
			texts[i] = p.Text
		}
		start := time.Now()
		vectors, err := e.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			e.indexErr = fmt.Errorf("failed to embed corpus: %w", err)
			return
		}
		e.vectors = vectors
		e.logger.Info("retrieval index built",
			zap.Int("passages", len(texts)),
			zap.Duration("took", time.Since(start)))
	})
	return e.indexErr
}

func (e *Engine) rankByEmbedding(ctx context.Context, query string, candidates []candidate, k int) ([]Passage, error) {
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	type scored struct {
		passage Passage
		score   float64
	}
	results := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		sim, err := embedding.Cosine(queryVec, e.vectors[c.corpus])
		if err != nil {
			return nil, err
		}
		results = append(results, scored{passage: c.passage, score: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if len(results) > k {
		results = results[:k]
	}
	out := make([]Passage, len(results))
	for i, r := range results {
		out[i] = r.passage
	}
	return out, nil
}

// rankByKeywords scores passages by query-token overlap. Short tokens
// carry no signal and are skipped.
func rankByKeywords(query string, candidates []candidate, k int) []Passage {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		out := make([]Passage, len(candidates))
		for i, c := range candidates {
			out[i] = c.passage
		}
		return out
	}

	type scored struct {
		passage Passage
		score   float64
	}
	var results []scored
	for _, c := range candidates {
		passageTokens := tokenize(c.passage.Text)
		if len(passageTokens) == 0 {
			continue
		}
		hits := 0
		for tok := range queryTokens {
			if _, ok := passageTokens[tok]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, scored{
			passage: c.passage,
			score:   float64(hits) / float64(len(queryTokens)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if len(results) > k {
		results = results[:k]
	}
	out := make([]Passage, len(results))
	for i, r := range results {
		out[i] = r.passage
	}
	return out
}

// tokenize lowercases and splits on non-letter/digit runes, dropping
// single-rune latin tokens.
func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(field) < 2 && field != "" && field[0] < 0x80 {
			continue
		}
		tokens[field] = struct{}{}
	}
	return tokens
}
