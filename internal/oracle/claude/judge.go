// Package claude implements the equivalence oracle on the Anthropic
// Messages API.
package claude

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/agentforest/forest/internal/oracle"
)

// Model constants. The judge defaults to the strong model because
// equivalence judgments feed directly into the final partition; the
// cheap model is available for smoke tests via env override.
const (
	// ModelSonnet is the default reasoning model.
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model.
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// DefaultModel returns the judge model, honoring FOREST_MODEL.
func DefaultModel() string {
	if model := os.Getenv("FOREST_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

// Config holds judge configuration.
type Config struct {
	// APIKey for the Anthropic API. Falls back to ANTHROPIC_API_KEY.
	APIKey string

	// Model to use. Defaults to DefaultModel().
	Model string

	// MaxTokens for one response. Defaults to a size derived from the
	// batch when zero.
	MaxTokens int

	// RequestsPerMinute is the global token-bucket rate across every
	// caller of this judge, so fan-out over many parents cannot
	// multiply API load. Default: 30.
	RequestsPerMinute int

	// MaxConcurrentCalls caps in-flight API calls. Default: 3.
	MaxConcurrentCalls int

	// Circuit breaker settings, defaulted when zero.
	FailureThreshold int           // failures before opening (default 5)
	SuccessThreshold int           // successes in half-open before closing (default 2)
	OpenTimeout      time.Duration // how long to stay open (default 30s)
}

// Judge is an oracle.Judge backed by Claude. One JudgeSiblings call is
// one API attempt; retry policy belongs to the caller, which knows the
// batch's fate. This type owns what must be process-global: the rate
// limiter, the concurrency cap, and the circuit breaker.
type Judge struct {
	client  *anthropic.Client
	model   string
	cfg     Config
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	breaker *circuitBreaker
}

var _ oracle.Judge = (*Judge)(nil)

// New creates a Judge.
func New(cfg Config) (*Judge, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel()
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = 3
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Judge{
		client:  &client,
		model:   model,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
		breaker: newCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout),
	}, nil
}

// JudgeSiblings implements oracle.Judge. It submits the payload batch
// to the model and returns the grouping verdict.
func (j *Judge) JudgeSiblings(ctx context.Context, payloads []string) (*oracle.Verdict, error) {
	if len(payloads) < 2 {
		// Nothing to compare; an empty verdict is a valid sub-partition.
		return &oracle.Verdict{}, nil
	}

	if err := j.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire judge slot: %w", err)
	}
	defer j.sem.Release(1)

	if err := j.breaker.Allow(); err != nil {
		return nil, &oracle.Error{Kind: oracle.KindTransient, Op: "judge_siblings", Err: err}
	}

	if err := j.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait canceled: %w", err)
	}

	prompt := buildGroupingPrompt(payloads)

	maxTokens := j.cfg.MaxTokens
	if maxTokens == 0 {
		// Index groups are tiny; the response limit only needs to scale with
		// batch size enough to never truncate.
		maxTokens = 256 + 64*len(payloads)
	}

	start := time.Now()
	resp, err := j.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(j.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		j.breaker.RecordFailure()
		return nil, classify("judge_siblings", err)
	}
	j.breaker.RecordSuccess()

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	fmt.Printf("oracle judge_siblings: batch=%d input=%d tokens, output=%d tokens, duration=%v\n",
		len(payloads), resp.Usage.InputTokens, resp.Usage.OutputTokens, time.Since(start))

	groups, err := parseGroups(text.String())
	if err != nil {
		return nil, &oracle.Error{Kind: oracle.KindMalformed, Op: "judge_siblings", Err: err}
	}

	verdict := &oracle.Verdict{Groups: groups}
	if err := verdict.Validate(len(payloads)); err != nil {
		return nil, &oracle.Error{Kind: oracle.KindMalformed, Op: "judge_siblings", Err: err}
	}
	return verdict, nil
}

// buildGroupingPrompt asks for the grouping verdict form: a JSON list
// of index lists covering only the payloads judged equivalent.
func buildGroupingPrompt(payloads []string) string {
	var b strings.Builder
	b.WriteString(`You are an AI research auditor. Analyze the following list of research plans.
Identify which plans have the SAME technical intent or hypothesis, even if phrased differently.

Plans:
`)
	for i, p := range payloads {
		fmt.Fprintf(&b, "%d: %s\n", i, p)
	}
	b.WriteString(`
TASK:
Group the plans above by semantic intent. Two plans belong to the same
group only if they propose the same approach; different wording, code
style, or level of detail does not make them different.

OUTPUT FORMAT (JSON only, no markdown):
A JSON list of lists, where each sub-list contains the indices of plans
that are semantically identical. Omit plans that match nothing.
Example: [[0, 2], [1, 3, 4]]
If no plans are identical, return [].

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences.`)
	return b.String()
}
