package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"
)

const (
	// defaultLimit is the maximum number of catalog hits considered.
	defaultLimit = 5
	// defaultScoreThreshold drops hits with too little token overlap.
	defaultScoreThreshold = 0.12
	// responseChunkRunes is the streamed fragment size of the final answer.
	responseChunkRunes = 24
)

// Recommender is an in-process TurnPipeline backed by the embedded catalog.
// Retrieval is token-overlap scoring with an optional media-type filter and a
// score threshold; the streamed thinking trace narrates the retrieval steps.
type Recommender struct {
	catalog        []MediaItem
	limit          int
	scoreThreshold float64
	logger         *slog.Logger
}

// Ensure Recommender implements TurnPipeline.
var _ TurnPipeline = (*Recommender)(nil)

// NewRecommender creates a recommender over the embedded catalog.
func NewRecommender(logger *slog.Logger) *Recommender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recommender{
		catalog:        defaultCatalog,
		limit:          defaultLimit,
		scoreThreshold: defaultScoreThreshold,
		logger:         logger,
	}
}

// NewRecommenderWithCatalog creates a recommender over a custom catalog.
func NewRecommenderWithCatalog(catalog []MediaItem, logger *slog.Logger) *Recommender {
	r := NewRecommender(logger)
	r.catalog = catalog
	return r
}

type scoredItem struct {
	item  MediaItem
	score float64
}

// Run streams a recommendation turn: thinking chunks narrating retrieval,
// then the final answer in bounded fragments.
func (r *Recommender) Run(ctx context.Context, req Request) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		if strings.TrimSpace(req.Text) == "" {
			yield(nil, fmt.Errorf("empty query"))
			return
		}

		typeFilter := detectTypeFilter(req.Text)
		hits := r.search(req.Text, typeFilter)

		for _, text := range r.thinkingTrace(req.Text, typeFilter, hits) {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			if !yield(&Chunk{Kind: ChunkThinking, Text: text}, nil) {
				return
			}
		}

		answer := r.compose(hits)
		for _, fragment := range splitChunks(answer, responseChunkRunes) {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			if !yield(&Chunk{Kind: ChunkResponse, Text: fragment}, nil) {
				return
			}
		}
	}
}

// search scores every catalog entry against the query and keeps the best
// hits above the threshold.
func (r *Recommender) search(query string, typeFilter MediaType) []scoredItem {
	queryTokens := tokenize(query)

	var hits []scoredItem
	for _, item := range r.catalog {
		if typeFilter != "" && item.Type != typeFilter {
			continue
		}
		score := overlapScore(queryTokens, itemTokens(item))
		if score < r.scoreThreshold {
			continue
		}
		hits = append(hits, scoredItem{item: item, score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].item.Rating > hits[j].item.Rating
	})
	if len(hits) > r.limit {
		hits = hits[:r.limit]
	}
	return hits
}

// thinkingTrace narrates the retrieval as streamed fragments.
func (r *Recommender) thinkingTrace(query string, typeFilter MediaType, hits []scoredItem) []string {
	trace := []string{
		fmt.Sprintf("Looking for matches for %q in the catalog. ", query),
	}
	if typeFilter != "" {
		trace = append(trace, fmt.Sprintf("Restricting the search to entries of type %s. ", typeFilter))
	}
	if len(hits) == 0 {
		trace = append(trace, "No catalog entry clears the relevance threshold; I will say so instead of guessing. ")
		return trace
	}
	trace = append(trace, fmt.Sprintf("Found %d candidate(s) above the relevance threshold. ", len(hits)))
	for _, h := range hits {
		trace = append(trace, fmt.Sprintf("Considering %s (%d, score %.2f). ", h.item.Title, h.item.Year, h.score))
	}
	return trace
}

// compose renders the final markdown answer from the ranked hits.
func (r *Recommender) compose(hits []scoredItem) string {
	if len(hits) == 0 {
		return "I could not find a good match in the catalog. Could you tell me more about the genre or mood you are after?"
	}

	var b strings.Builder
	top := hits[0].item
	fmt.Fprintf(&b, "I'd recommend **%s** (%d), %s rated %.1f.", top.Title, top.Year, strings.Join(top.Genres, "/"), top.Rating)
	if cat := top.DurationCategory(); cat != "" {
		fmt.Fprintf(&b, " It's a %s watch.", cat)
	}
	fmt.Fprintf(&b, " %s", top.Description)

	if len(hits) > 1 {
		b.WriteString("\n\nAlso worth a look:\n")
		for _, h := range hits[1:] {
			fmt.Fprintf(&b, "- **%s** (%d) — %s\n", h.item.Title, h.item.Year, strings.Join(h.item.Genres, "/"))
		}
	}
	return b.String()
}

// detectTypeFilter infers a media-type restriction from the query wording.
func detectTypeFilter(query string) MediaType {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "tv show"), strings.Contains(q, "series"), strings.Contains(q, " show"):
		return TypeTVShow
	case strings.Contains(q, "movie"), strings.Contains(q, "film"):
		return TypeMovie
	default:
		return ""
	}
}

// stopwords are ignored when scoring; they carry no retrieval signal.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "me": true, "my": true,
	"to": true, "of": true, "in": true, "on": true, "for": true, "and": true,
	"or": true, "is": true, "it": true, "that": true, "this": true,
	"recommend": true, "suggest": true, "watch": true, "something": true,
	"movie": true, "film": true, "show": true, "series": true, "tv": true,
	"like": true, "want": true, "good": true, "please": true,
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '-'
	}) {
		if f == "" || stopwords[f] {
			continue
		}
		tokens[f] = true
	}
	return tokens
}

func itemTokens(item MediaItem) map[string]bool {
	parts := []string{item.Title, item.Description}
	parts = append(parts, item.Genres...)
	return tokenize(strings.Join(parts, " "))
}

// overlapScore is the fraction of query tokens present in the item.
func overlapScore(query, item map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for tok := range query {
		if item[tok] {
			matched++
			continue
		}
		// "sci-fi" in the query should match "sci-fi" genre even when the
		// tokenizer split the query variant differently ("scifi").
		if strings.ReplaceAll(tok, "-", "") != tok {
			if item[strings.ReplaceAll(tok, "-", "")] {
				matched++
			}
		}
	}
	return float64(matched) / float64(len(query))
}

// splitChunks breaks s into rune-safe fragments of at most n runes.
func splitChunks(s string, n int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var out []string
	for len(runes) > n {
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	out = append(out, string(runes))
	return out
}
