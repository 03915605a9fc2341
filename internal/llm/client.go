package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/prep-agent/backend/pkg/circuitbreaker"
	"github.com/prep-agent/backend/pkg/logger"
	"github.com/prep-agent/backend/pkg/retry"
)

// Rough blended cost per 1K tokens. Used only for savings accounting,
// not billing.
const costPer1KTokens = 0.002

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Cost estimates the dollar cost of the completion from token usage.
func (u Usage) Cost() float64 {
	return float64(u.TotalTokens) / 1000 * costPer1KTokens
}

func NewClient(apiKey, model string, temperature float32, maxTokens int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized", zap.String("model", model))

	return &Client{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// OptimizeQuery turns a templated research query into a sharper web
// search query. On failure callers should fall back to the original.
func (c *Client) OptimizeQuery(ctx context.Context, query string) (string, error) {
	systemPrompt := `You are a search query optimizer for interview preparation research.
Transform research queries into effective web search queries.

Rules:
1. Keep the company and role names exactly as given
2. Add recency keywords (year context) for news-style queries
3. Prefer authoritative sources (company sites, press, Glassdoor, LinkedIn)

Return ONLY the optimized query, nothing else.`

	userPrompt := fmt.Sprintf("Optimize this interview research query: %s", query)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    100,
	})

	if err != nil {
		return "", err
	}

	optimized := strings.TrimSpace(resp.Content)
	logger.Debug("Query optimized", zap.String("original", query), zap.String("optimized", optimized))

	return optimized, nil
}

// SummarizeFindings condenses raw search results for one research
// category into a cited brief. Every claim must point back at a source
// so downstream scoring can tell cited findings from uncited ones.
func (c *Client) SummarizeFindings(ctx context.Context, category, subject, rawFindings string) (string, Usage, error) {
	systemPrompt := fmt.Sprintf(`You are an interview preparation researcher. Summarize raw web findings about the "%s" research category into a concise brief.

Your brief must:
1. Be 3-6 bullet points, specific and factual
2. Cite the source URL in [brackets] after each claim
3. Omit anything not supported by the findings
4. Note explicitly if the findings are too thin to say anything useful

Be concise and concrete.`, category)

	userPrompt := fmt.Sprintf("Subject: %s\n\nRaw findings:\n%s", subject, rawFindings)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
		MaxTokens:    600,
	})

	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to summarize findings: %w", err)
	}

	logger.Info("Findings summarized",
		zap.String("category", category),
		zap.Int("summary_length", len(resp.Content)),
	)

	return resp.Content, resp.Usage, nil
}
