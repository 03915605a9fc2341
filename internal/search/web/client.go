package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/prep-agent/backend/internal/llm"
	"github.com/prep-agent/backend/pkg/logger"
)

type Client struct {
	serpAPIKey    string
	llmClient     *llm.Client
	httpClient    *http.Client
	costPerSearch float64
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content"`
}

func NewClient(serpAPIKey string, llmClient *llm.Client, costPerSearch float64, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		serpAPIKey:    serpAPIKey,
		llmClient:     llmClient,
		httpClient:    &http.Client{Timeout: timeout},
		costPerSearch: costPerSearch,
	}
}

// CostPerSearch is the estimated upstream cost of one search call, used
// for cache savings accounting.
func (c *Client) CostPerSearch() float64 {
	return c.costPerSearch
}

// QueriesFor builds targeted search queries for one research category.
// Templates mirror where interview intel actually lives: company sites
// and press for the company, job boards for the role, LinkedIn for the
// interviewer.
func QueriesFor(category, company, role, interviewer string) []string {
	switch category {
	case "company":
		return []string{
			fmt.Sprintf("%q mission statement about us", company),
			fmt.Sprintf("%q company culture values", company),
			fmt.Sprintf("%q recent news", company),
		}
	case "role":
		return []string{
			fmt.Sprintf("%q %q interview questions", company, role),
			fmt.Sprintf("%q skills requirements %q job posting", role, company),
			fmt.Sprintf("site:reddit.com %q interview experience", company),
		}
	case "interviewer":
		if interviewer == "" {
			return nil
		}
		return []string{
			fmt.Sprintf("%q %q linkedin profile", interviewer, company),
			fmt.Sprintf("%q %s background experience", interviewer, company),
		}
	default:
		return []string{fmt.Sprintf("%q %s", company, category)}
	}
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	logger.Info("Performing web search", zap.String("query", query))

	optimizedQuery := query
	if c.llmClient != nil {
		if optimized, err := c.llmClient.OptimizeQuery(ctx, query); err == nil {
			optimizedQuery = optimized
		} else {
			logger.Warn("Failed to optimize query, using original", zap.Error(err))
		}
	}

	var results []SearchResult
	var err error
	if c.serpAPIKey != "" {
		results, err = c.searchWithSerpAPI(ctx, optimizedQuery, maxResults)
	} else {
		results, err = c.searchWithGoogle(ctx, optimizedQuery, maxResults)
	}
	if err != nil {
		return nil, err
	}

	return filterResults(results), nil
}

// filterResults drops login walls, signup pages, and aggregator junk
// that carry no research value.
func filterResults(results []SearchResult) []SearchResult {
	filtered := results[:0]
	for _, r := range results {
		if isJunkResult(r) {
			logger.Debug("Dropping low-value result", zap.String("url", r.URL))
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func isJunkResult(r SearchResult) bool {
	u := strings.ToLower(r.URL)
	title := strings.ToLower(r.Title)

	junkPaths := []string{"/login", "/signin", "/signup", "/register", "authwall"}
	for _, p := range junkPaths {
		if strings.Contains(u, p) {
			return true
		}
	}

	junkTitles := []string{"sign in", "sign up", "log in", "access denied", "404"}
	for _, t := range junkTitles {
		if strings.Contains(title, t) {
			return true
		}
	}

	return r.Title == "" || r.URL == ""
}

func (c *Client) searchWithSerpAPI(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	baseURL := "https://serpapi.com/search"
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.serpAPIKey)
	params.Add("num", fmt.Sprintf("%d", maxResults))

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s?%s", baseURL, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}

	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]SearchResult, 0, len(searchResp.OrganicResults))
	for _, r := range searchResp.OrganicResults {
		content, err := c.scrapeContent(r.Link)
		if err != nil {
			logger.Warn("Failed to scrape content", zap.String("url", r.Link), zap.Error(err))
			content = r.Snippet
		}

		results = append(results, SearchResult{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
			Content: content,
		})
	}

	logger.Info("Web search completed", zap.Int("results", len(results)))

	return results, nil
}

func (c *Client) searchWithGoogle(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("https://www.google.com/search?q=%s&num=%d", url.QueryEscape(query), maxResults)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	results := make([]SearchResult, 0)
	doc.Find("div.g").Each(func(i int, s *goquery.Selection) {
		if i >= maxResults {
			return
		}

		title := s.Find("h3").Text()
		link, _ := s.Find("a").Attr("href")
		snippet := s.Find("div.VwiC3b").Text()

		if title != "" && link != "" {
			content, err := c.scrapeContent(link)
			if err != nil {
				content = snippet
			}

			results = append(results, SearchResult{
				Title:   title,
				URL:     link,
				Snippet: snippet,
				Content: content,
			})
		}
	})

	logger.Info("Google search completed", zap.Int("results", len(results)))

	return results, nil
}

func (c *Client) scrapeContent(urlStr string) (string, error) {
	resp, err := c.httpClient.Get(urlStr)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())

	if len(text) > 5000 {
		text = text[:5000]
	}

	return text, nil
}
