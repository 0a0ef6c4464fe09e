package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/vantagesearch/client/internal/api"
	"github.com/vantagesearch/client/internal/models"
)

var (
	// ErrNetwork indicates the search request never produced a response.
	ErrNetwork = errors.New("search unavailable")
	// ErrQuery indicates the server rejected or failed the query.
	ErrQuery = errors.New("search failed")
	// ErrSuperseded indicates a newer query started before this one resolved.
	ErrSuperseded = errors.New("search superseded by a newer query")
)

// DefaultLimit matches the number of moments the backend returns by default.
const DefaultLimit = 10

// Searcher runs a query against the backend.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]api.SearchHit, error)
}

// State is the observable search state.
type State struct {
	Query   string                `json:"query"`
	Results []models.SearchResult `json:"results"`
	Loading bool                  `json:"loading"`
	Failed  bool                  `json:"failed"`
	Error   string                `json:"error,omitempty"`
}

// Controller issues queries and holds the latest result set.
type Controller struct {
	searcher Searcher
	limit    int
	logger   *slog.Logger

	mu    sync.Mutex
	seq   uint64
	state State
}

// NewController constructs a Controller returning at most limit results.
func NewController(searcher Searcher, limit int, logger *slog.Logger) *Controller {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{searcher: searcher, limit: limit, logger: logger}
}

// Search runs query and replaces the current results. A blank query issues no
// request and leaves prior results untouched. Results keep server order.
func (c *Controller) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		c.mu.Lock()
		defer c.mu.Unlock()
		return cloneResults(c.state.Results), nil
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.state.Query = query
	c.state.Loading = true
	c.mu.Unlock()

	hits, err := c.searcher.Search(ctx, query, c.limit)

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.seq {
		return nil, ErrSuperseded
	}
	c.state.Loading = false

	if err != nil {
		kind := ErrQuery
		if api.IsTransient(err) {
			kind = ErrNetwork
		}
		c.state.Results = nil
		c.state.Failed = true
		c.state.Error = kind.Error()
		c.logger.Warn("search failed", slog.String("query", query), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", kind, err)
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, toResult(hit))
	}
	c.state.Results = results
	c.state.Failed = false
	c.state.Error = ""
	c.logger.Debug("search completed", slog.String("query", query), slog.Int("results", len(results)))
	return cloneResults(results), nil
}

// State returns a copy of the current search state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Results = cloneResults(c.state.Results)
	return s
}

// Confidence converts a vector distance into a 0-100 score.
func Confidence(distance float64) int {
	return clampPercent(math.Round(math.Max(0, 1-distance) * 100))
}

func toResult(hit api.SearchHit) models.SearchResult {
	confidence := Confidence(hit.Distance)
	if hit.Confidence != nil {
		confidence = clampPercent(math.Round(*hit.Confidence))
	}
	return models.SearchResult{
		VideoID:    hit.VideoID,
		MatchType:  hit.MatchType,
		Distance:   hit.Distance,
		Confidence: confidence,
		Timestamp:  hit.Timestamp,
		StartTime:  hit.StartTime,
		EndTime:    hit.EndTime,
		ClipURL:    hit.ClipURL,
		MatchCount: hit.MatchCount,
		Tags:       hit.Tags,
	}
}

func clampPercent(v float64) int {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v)
	}
}

func cloneResults(results []models.SearchResult) []models.SearchResult {
	if results == nil {
		return nil
	}
	out := make([]models.SearchResult, len(results))
	copy(out, results)
	return out
}
