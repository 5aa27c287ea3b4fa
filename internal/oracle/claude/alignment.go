package claude

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/agentforest/forest/internal/oracle"
)

var _ oracle.AlignmentJudge = (*Judge)(nil)

// JudgeAlignment implements oracle.AlignmentJudge. One call is one API
// attempt, sharing the rate limiter, concurrency cap, and circuit
// breaker with JudgeSiblings.
func (j *Judge) JudgeAlignment(ctx context.Context, plan, diff string) (*oracle.AlignmentVerdict, error) {
	if err := j.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire judge slot: %w", err)
	}
	defer j.sem.Release(1)

	if err := j.breaker.Allow(); err != nil {
		return nil, &oracle.Error{Kind: oracle.KindTransient, Op: "judge_alignment", Err: err}
	}

	if err := j.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait canceled: %w", err)
	}

	prompt := buildAlignmentPrompt(plan, diff)

	maxTokens := j.cfg.MaxTokens
	if maxTokens == 0 {
		// One status plus a short reason.
		maxTokens = 512
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
		return nil, classify("judge_alignment", err)
	}
	j.breaker.RecordSuccess()

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	fmt.Printf("oracle judge_alignment: input=%d tokens, output=%d tokens, duration=%v\n",
		resp.Usage.InputTokens, resp.Usage.OutputTokens, time.Since(start))

	verdict, err := parseAlignment(text.String())
	if err != nil {
		return nil, &oracle.Error{Kind: oracle.KindMalformed, Op: "judge_alignment", Err: err}
	}
	return verdict, nil
}

// buildAlignmentPrompt asks for a single verdict object: did the code
// change implement the plan that preceded it.
func buildAlignmentPrompt(plan, diff string) string {
	var b strings.Builder
	b.WriteString("You are a senior code reviewer. Verify if the code changes strictly implement the user's plan.\n\n")
	fmt.Fprintf(&b, "PLAN:\n%s\n\nCODE DIFF:\n%s\n\n", plan, diff)
	b.WriteString(`Respond with JSON: {"status": "aligned"|"partial"|"deviated", "reason": "concise explanation"}

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences.`)
	return b.String()
}
