package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prep-agent/backend/internal/llm"
	"github.com/prep-agent/backend/internal/search/web"
	"github.com/prep-agent/backend/pkg/logger"
)

// Research categories and their contribution to the quality score.
// Weights mirror the dedup matcher: the company brief matters most,
// the interviewer brief least.
const (
	CategoryCompany     = "company"
	CategoryRole        = "role"
	CategoryInterviewer = "interviewer"
)

var Categories = []string{CategoryCompany, CategoryRole, CategoryInterviewer}

var categoryWeights = map[string]float64{
	CategoryCompany:     0.5,
	CategoryRole:        0.3,
	CategoryInterviewer: 0.2,
}

// Subject is the interview tuple a session researches.
type Subject struct {
	Company     string
	Role        string
	Interviewer string
}

// CategoryFindings is one category's slot in the research payload.
// An empty summary or a recorded error contributes zero richness.
type CategoryFindings struct {
	Category string   `json:"category"`
	Summary  string   `json:"summary"`
	Sources  []string `json:"sources"`
	Error    string   `json:"error,omitempty"`
}

// richness scores how usable the findings are: 1.0 with cited sources,
// 0.5 with an uncited summary, 0 for empty or failed.
func (f CategoryFindings) richness() float64 {
	if f.Error != "" || strings.TrimSpace(f.Summary) == "" {
		return 0
	}
	if len(f.Sources) > 0 {
		return 1.0
	}
	return 0.5
}

// sufficient means the category needs no targeted retry.
func (f CategoryFindings) sufficient() bool {
	return f.richness() >= 1.0
}

// SourceSet performs the actual per-category research: targeted web
// searches followed by an LLM summarization pass, both routed through
// the cache adapter so repeated subjects cost nothing.
type SourceSet struct {
	search     *web.Client
	llm        *llm.Client
	adapter    *CacheAdapter
	searchTTL  time.Duration
	summaryTTL time.Duration
	maxResults int
}

func NewSourceSet(search *web.Client, llmClient *llm.Client, adapter *CacheAdapter, searchTTL, summaryTTL time.Duration, maxResults int) *SourceSet {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &SourceSet{
		search:     search,
		llm:        llmClient,
		adapter:    adapter,
		searchTTL:  searchTTL,
		summaryTTL: summaryTTL,
		maxResults: maxResults,
	}
}

// Research gathers and summarizes findings for one category. Errors are
// folded into the findings rather than returned, so one bad category
// never aborts a collection round.
func (s *SourceSet) Research(ctx context.Context, category string, subj Subject) CategoryFindings {
	findings := CategoryFindings{Category: category}

	queries := web.QueriesFor(category, subj.Company, subj.Role, subj.Interviewer)
	if len(queries) == 0 {
		return findings
	}

	var results []web.SearchResult
	var failures []string
	for _, query := range queries {
		batch, err := s.cachedSearch(ctx, category, query)
		if err != nil {
			logger.Warn("Category search failed",
				zap.String("category", category),
				zap.String("query", query),
				zap.Error(err),
			)
			failures = append(failures, err.Error())
			continue
		}
		results = append(results, batch...)
	}

	if len(results) == 0 {
		if len(failures) > 0 {
			findings.Error = failures[0]
		}
		return findings
	}

	summary, sources, err := s.cachedSummary(ctx, category, subj, results)
	if err != nil {
		findings.Error = err.Error()
		return findings
	}

	findings.Summary = summary
	findings.Sources = sources
	return findings
}

func (s *SourceSet) cachedSearch(ctx context.Context, category, query string) ([]web.SearchResult, error) {
	fingerprint := Fingerprint("search", query)

	raw, err := s.adapter.CallCached(ctx, category, fingerprint, s.searchTTL, func(ctx context.Context) (json.RawMessage, float64, error) {
		results, err := s.search.Search(ctx, query, s.maxResults)
		if err != nil {
			return nil, 0, err
		}
		data, err := json.Marshal(results)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode results: %w", err)
		}
		return data, s.search.CostPerSearch(), nil
	})
	if err != nil {
		return nil, err
	}

	var results []web.SearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("failed to decode cached results: %w", err)
	}
	return results, nil
}

func (s *SourceSet) cachedSummary(ctx context.Context, category string, subj Subject, results []web.SearchResult) (string, []string, error) {
	sources := make([]string, 0, len(results))
	var rawFindings strings.Builder
	for _, r := range results {
		sources = append(sources, r.URL)
		fmt.Fprintf(&rawFindings, "[%s] %s\n%s\n\n", r.URL, r.Title, r.Content)
	}

	subject := strings.TrimSpace(strings.Join([]string{subj.Company, subj.Role, subj.Interviewer}, " / "))

	// Summaries are keyed by the source URLs, not the scraped text, so
	// the same result set reuses the same summary across sessions.
	fingerprint := Fingerprint("summary", append([]string{category, subject}, sources...)...)

	raw, err := s.adapter.CallCached(ctx, category, fingerprint, s.summaryTTL, func(ctx context.Context) (json.RawMessage, float64, error) {
		summary, usage, err := s.llm.SummarizeFindings(ctx, category, subject, rawFindings.String())
		if err != nil {
			return nil, 0, err
		}
		data, err := json.Marshal(summary)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode summary: %w", err)
		}
		return data, usage.Cost(), nil
	})
	if err != nil {
		return "", nil, err
	}

	var summary string
	if err := json.Unmarshal(raw, &summary); err != nil {
		return "", nil, fmt.Errorf("failed to decode cached summary: %w", err)
	}
	return summary, sources, nil
}
