package screening

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/llm"
	"github.com/driverline/screener/internal/prompts"
	"github.com/driverline/screener/internal/storage"
)

// summaryBudget is the hard character cap on the stored recruiter
// summary. Enforced in runes so multibyte text is never split.
const summaryBudget = 300

// Completer produces the closing narrative shown to the candidate and
// the recruiter-facing summary stored on the conversation.
type Completer struct {
	store  storage.Store
	client llm.Client
	logger *zap.Logger
	budget int
}

// NewCompleter returns a Completer writing summaries to store.
func NewCompleter(store storage.Store, client llm.Client, logger *zap.Logger) *Completer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Completer{store: store, client: client, logger: logger, budget: summaryBudget}
}

// Narrative generates the closing message for decision, streaming
// through sink when sink is non-nil. A completion failure falls back to
// a fixed farewell; the conversation still closes.
func (c *Completer) Narrative(ctx context.Context, snap *Snapshot, decision domain.Decision, sink llm.ChunkFunc) string {
	pc := prompts.Context{FirstName: snap.FirstName, JobTitle: snap.JobTitle}

	var messages []llm.Message
	if decision == domain.DecisionUserCanceled {
		messages = prompts.GoodLuck(pc, snap.History)
	} else {
		messages = prompts.Completion(pc, decision, outcomeRecap(snap.Pairs()), snap.History)
	}

	var (
		narrative string
		err       error
	)
	if sink == nil {
		narrative, err = c.client.Complete(ctx, messages)
	} else {
		narrative, err = c.client.CompleteStreaming(ctx, messages, sink)
	}
	if err != nil {
		c.logger.Warn("closing narrative generation failed, using fallback",
			zap.String("conversation_id", snap.Conversation.ID.String()),
			zap.Error(err),
		)
		narrative = fallbackNarrative(pc, decision)
		if emitErr := emit(sink, narrative); emitErr != nil {
			c.logger.Warn("fallback narrative stream interrupted", zap.Error(emitErr))
		}
	}
	return narrative
}

// Finalize digests the closing narrative into the stored summary.
// Called after the terminal decision is committed; a failure here loses
// only the summary, never the decision.
func (c *Completer) Finalize(ctx context.Context, snap *Snapshot, decision domain.Decision, narrative string) error {
	summary, err := c.digest(ctx, snap, narrative)
	if err != nil {
		return err
	}
	if err := c.store.SetSummary(ctx, snap.Conversation.ID, summary); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	c.logger.Info("summary stored",
		zap.String("conversation_id", snap.Conversation.ID.String()),
		zap.String("decision", string(decision)),
		zap.Int("length", len([]rune(summary))),
	)
	return nil
}

// digest caps the closing narrative at the budget: the narrative as-is
// when it fits, a condensation pass when it does not, and a hard
// truncation when even the condensed text runs over or the model is
// unavailable.
func (c *Completer) digest(ctx context.Context, snap *Snapshot, narrative string) (string, error) {
	base := strings.TrimSpace(narrative)
	if base == "" {
		base = outcomeRecap(snap.Pairs())
	}
	if len([]rune(base)) <= c.budget {
		return base, nil
	}

	condensed, err := c.client.Complete(ctx, prompts.Condense(base, c.budget))
	if err != nil {
		c.logger.Warn("summary condensation failed, truncating",
			zap.String("conversation_id", snap.Conversation.ID.String()),
			zap.Error(fmt.Errorf("%w: %w", ErrSummaryUnavailable, err)),
		)
		return truncateToBudget(base, c.budget), nil
	}

	condensed = strings.TrimSpace(removeJSON(condensed))
	if condensed == "" || len([]rune(condensed)) > c.budget {
		return truncateToBudget(firstNonEmpty(condensed, base), c.budget), nil
	}
	return condensed, nil
}

// outcomeRecap renders every requirement outcome as one line for
// prompts and summaries.
func outcomeRecap(pairs []RequirementOutcome) string {
	lines := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		lines = append(lines, fmt.Sprintf("%s: %s", pair.Requirement.Description, pair.Outcome.Status))
	}
	return strings.Join(lines, "; ")
}

func fallbackNarrative(pc prompts.Context, decision domain.Decision) string {
	switch decision {
	case domain.DecisionApproved:
		return fmt.Sprintf("Great news, %s! You meet the key requirements for the %s position. Our team will reach out with next steps shortly. Thank you for your time!", pc.FirstName, pc.JobTitle)
	case domain.DecisionDenied:
		return fmt.Sprintf("Thank you for your time, %s. Unfortunately the %s position requires qualifications that don't match what you shared today. We wish you the best in your search.", pc.FirstName, pc.JobTitle)
	default:
		return fmt.Sprintf("No problem, %s. If you change your mind about the %s position, we'd be glad to pick this back up. Good luck!", pc.FirstName, pc.JobTitle)
	}
}

// truncateToBudget hard-caps text at budget runes, ending in "..." when
// anything was cut.
func truncateToBudget(text string, budget int) string {
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	if budget <= 3 {
		return string(runes[:budget])
	}
	return string(runes[:budget-3]) + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
