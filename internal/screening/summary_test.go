package screening

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/llm"
)

func summarySnapshot(description string) *Snapshot {
	req := domain.Requirement{
		ID:          uuid.New(),
		Description: description,
		Criteria:    map[string]any{"required": true},
		Priority:    1,
	}
	return &Snapshot{
		Conversation: &domain.Conversation{ID: uuid.New()},
		FirstName:    "Alex",
		JobTitle:     "CDL-A Regional Driver",
		Requirements: []domain.Requirement{req},
		Outcomes:     []domain.Outcome{{RequirementID: req.ID, Status: domain.OutcomeNotMet}},
	}
}

func TestDigestKeepsShortNarrativeVerbatim(t *testing.T) {
	t.Parallel()

	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		t.Fatal("condensation must not be called for a narrative within budget")
		return "", nil
	}}
	completer := NewCompleter(nil, client, zap.NewNop())

	narrative := "Thank you for your time, Alex. Unfortunately this role requires a valid Class A CDL."
	summary, err := completer.digest(context.Background(), summarySnapshot("Valid Class A CDL"), narrative)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != narrative {
		t.Fatalf("expected the narrative verbatim, got %q", summary)
	}
	if client.callCount() != 0 {
		t.Fatalf("expected 0 model calls, got %d", client.callCount())
	}
}

func TestDigestCondensesLongNarrative(t *testing.T) {
	t.Parallel()

	condensed := "Denied: lacks the required Class A CDL."
	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return condensed, nil
	}}
	completer := NewCompleter(nil, client, zap.NewNop())

	narrative := strings.Repeat("Thanks again for walking me through your refrigerated freight experience today. ", 200)
	summary, err := completer.digest(context.Background(), summarySnapshot("Valid Class A CDL"), narrative)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != condensed {
		t.Fatalf("expected condensed summary, got %q", summary)
	}
	if client.callCount() != 1 {
		t.Fatalf("expected 1 model call, got %d", client.callCount())
	}
}

func TestDigestTruncatesWhenCondensationFails(t *testing.T) {
	t.Parallel()

	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return "", llm.ErrUnavailable
	}}
	completer := NewCompleter(nil, client, zap.NewNop())

	narrative := strings.Repeat("Thanks again for walking me through your refrigerated freight experience today. ", 200)
	summary, err := completer.digest(context.Background(), summarySnapshot("Valid Class A CDL"), narrative)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runes := []rune(summary)
	if len(runes) != summaryBudget {
		t.Fatalf("expected exactly %d runes, got %d", summaryBudget, len(runes))
	}
	if !strings.HasSuffix(summary, "...") {
		t.Fatalf("expected truncated summary to end in ellipsis, got %q", summary[len(summary)-10:])
	}
	if !strings.HasPrefix(narrative, strings.TrimSuffix(summary, "...")) {
		t.Fatal("expected the truncation to be a prefix of the narrative")
	}
}

func TestDigestTruncatesOverlongCondensation(t *testing.T) {
	t.Parallel()

	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return strings.Repeat("still way too long ", 30), nil
	}}
	completer := NewCompleter(nil, client, zap.NewNop())

	narrative := strings.Repeat("Thanks again for walking me through your refrigerated freight experience today. ", 200)
	summary, err := completer.digest(context.Background(), summarySnapshot("Valid Class A CDL"), narrative)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len([]rune(summary)); got > summaryBudget {
		t.Fatalf("summary over budget: %d runes", got)
	}
	if !strings.HasSuffix(summary, "...") {
		t.Fatal("expected truncated summary to end in ellipsis")
	}
}

func TestDigestStripsEmbeddedJSONFromCondensation(t *testing.T) {
	t.Parallel()

	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return `Denied: lacks the required Class A CDL. {"decision":"DENIED"}`, nil
	}}
	completer := NewCompleter(nil, client, zap.NewNop())

	narrative := strings.Repeat("Thanks again for walking me through your refrigerated freight experience today. ", 200)
	summary, err := completer.digest(context.Background(), summarySnapshot("Valid Class A CDL"), narrative)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "Denied: lacks the required Class A CDL." {
		t.Fatalf("expected embedded JSON stripped, got %q", summary)
	}
}

func TestDigestRecapsWhenNarrativeEmpty(t *testing.T) {
	t.Parallel()

	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		t.Fatal("condensation must not be called for a recap within budget")
		return "", nil
	}}
	completer := NewCompleter(nil, client, zap.NewNop())

	summary, err := completer.digest(context.Background(), summarySnapshot("Valid Class A CDL"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(summary, "Valid Class A CDL: NOT_MET") {
		t.Fatalf("expected the outcome recap, got %q", summary)
	}
}

func TestNarrativeFallbackOnModelFailure(t *testing.T) {
	t.Parallel()

	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return "", llm.ErrUnavailable
	}}
	completer := NewCompleter(nil, client, zap.NewNop())

	var streamed strings.Builder
	sink := func(chunk string) error {
		streamed.WriteString(chunk)
		return nil
	}

	narrative := completer.Narrative(context.Background(), summarySnapshot("Valid Class A CDL"), domain.DecisionDenied, sink)
	if narrative == "" {
		t.Fatal("expected a fallback narrative")
	}
	if !strings.Contains(narrative, "Alex") {
		t.Fatalf("expected candidate name in narrative, got %q", narrative)
	}
	if streamed.String() != narrative {
		t.Fatal("expected the fallback narrative to be streamed")
	}
}

func TestNarrativeCanceledUsesFarewell(t *testing.T) {
	t.Parallel()

	reply := "No worries, good luck out there!"
	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return reply, nil
	}}
	completer := NewCompleter(nil, client, zap.NewNop())

	narrative := completer.Narrative(context.Background(), summarySnapshot("Valid Class A CDL"), domain.DecisionUserCanceled, nil)
	if narrative != reply {
		t.Fatalf("expected %q, got %q", reply, narrative)
	}
}
