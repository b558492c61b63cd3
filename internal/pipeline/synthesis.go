package pipeline

import (
	"context"
	"fmt"
	"strings"

	"chorus/internal/llm"
	"chorus/internal/logging"
	"chorus/internal/markup"
	"chorus/internal/memory"
	"chorus/internal/prompts"
)

const contractCorrection = "Your previous reply was missing its reasoning block. " +
	"Resend your complete answer, starting with your reasoning inside a single <think>...</think> block."

// SynthesisEngine composes the final answer from source digests and
// conversation memory. Every reply must carry a reasoning block; violations
// are corrected with bounded re-asks and, as a last resort, a placeholder
// block is wrapped around the raw reply rather than failing the turn.
type SynthesisEngine struct {
	client   llm.Client
	model    string
	library  *prompts.Library
	attempts int // total attempts for the reasoning-block contract
}

// NewSynthesisEngine creates a synthesis engine. attempts is the total number
// of tries for the reasoning-block contract, minimum 1.
func NewSynthesisEngine(client llm.Client, model string, library *prompts.Library, attempts int) *SynthesisEngine {
	if attempts < 1 {
		attempts = 1
	}
	return &SynthesisEngine{client: client, model: model, library: library, attempts: attempts}
}

// Synthesize answers the query from the digests and history. An empty digests
// string means no usable sources survived; the model is told to answer from
// prior knowledge. A transport error here is the one model failure that
// surfaces to the caller.
func (s *SynthesisEngine) Synthesize(ctx context.Context, query, digests string, history []memory.Recalled) (string, error) {
	timer := logging.StartTimer(logging.CategorySynthesis, "Synthesize")
	defer timer.Stop()

	system := s.library.Get(prompts.Narrator) + "\n\n" + s.library.Get(prompts.Synthesis)
	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}

	var sb strings.Builder
	if digests != "" {
		sb.WriteString("Web research digests:\n")
		sb.WriteString(digests)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("No usable web sources were found. Answer from prior knowledge and say so.\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: sb.String()})

	var reply string
	var transportErr error
	compliant := false

	policy := llm.RetryPolicy{MaxAttempts: s.attempts}
	err := policy.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			logging.Get(logging.CategorySynthesis).Warn("Reply missing reasoning block, correction attempt %d/%d", attempt, s.attempts-1)
			messages = append(messages,
				llm.Message{Role: llm.RoleAssistant, Content: reply},
				llm.Message{Role: llm.RoleUser, Content: contractCorrection},
			)
		}

		r, cerr := s.client.Chat(ctx, s.model, messages)
		if cerr != nil {
			// Transport failure surfaces to the caller; retrying is the
			// client's concern, not the contract's.
			transportErr = fmt.Errorf("synthesis call failed: %w", cerr)
			return nil
		}
		reply = r

		// An additional-search directive carries no reasoning block by design.
		if markup.HasThinkBlock(r) || markup.ExtractAdditionalSearch(r) != "" {
			compliant = true
			return nil
		}
		return &ContractViolation{Attempts: attempt + 1}
	})

	switch {
	case transportErr != nil:
		return "", transportErr
	case compliant:
		return reply, nil
	case err != nil && ctx.Err() != nil:
		return "", err
	}

	violation := &ContractViolation{Attempts: s.attempts}
	logging.Get(logging.CategorySynthesis).Error("%v, wrapping placeholder reasoning block", violation)
	return markup.WrapThink("Reasoning not provided by the model.") + "\n" + reply, nil
}

// SummarizeForMemory condenses the delivered answer into a memory-sized recall
// string. A failure falls back to a templated one-liner; the memory write is
// never skipped on its account.
func (s *SynthesisEngine) SummarizeForMemory(ctx context.Context, model, query, answer string) string {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: s.library.Get(prompts.MemorySummary)},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Question: %s\n\nAnswer:\n%s", query, answer)},
	}

	summary, err := s.client.Chat(ctx, model, messages)
	if err != nil {
		logging.Get(logging.CategorySynthesis).Warn("Memory summarization failed, using templated fallback: %v", err)
		return fmt.Sprintf("The user asked: %s. The assistant answered using web research.", query)
	}
	return strings.TrimSpace(markup.StripThinking(summary))
}
