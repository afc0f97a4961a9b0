package screening

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driverline/screener/internal/criteria"
	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/llm"
)

func cdlRequirement() domain.Requirement {
	return domain.Requirement{
		ID:          uuid.New(),
		Type:        criteria.TypeCDLClass,
		Description: "Valid Class A CDL",
		Criteria:    map[string]any{"required": true, "cdl_class": "A"},
		Priority:    1,
	}
}

func TestEvaluatorMetViaCriteria(t *testing.T) {
	t.Parallel()

	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return `{"value":{"cdl_class":"A","confirmed":true},"assessment":null,"needs_clarification":false,"message":""}`, nil
	}}
	evaluator := NewEvaluator(client, zap.NewNop(), 0)

	eval, err := evaluator.Evaluate(context.Background(), cdlRequirement(), "Yes, I hold a Class A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Status != domain.OutcomeMet {
		t.Fatalf("expected MET, got %s", eval.Status)
	}
	if eval.NeedsClarification {
		t.Fatal("expected no clarification")
	}
}

func TestEvaluatorCriteriaOverridesAssessment(t *testing.T) {
	t.Parallel()

	// The deterministic check wins over the model's own verdict.
	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return `{"value":{"cdl_class":"B","confirmed":true},"assessment":"MET","needs_clarification":false,"message":""}`, nil
	}}
	evaluator := NewEvaluator(client, zap.NewNop(), 0)

	eval, err := evaluator.Evaluate(context.Background(), cdlRequirement(), "I have a Class B")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Status != domain.OutcomeNotMet {
		t.Fatalf("expected NOT_MET from criteria check, got %s", eval.Status)
	}
}

func TestEvaluatorAssessmentFallback(t *testing.T) {
	t.Parallel()

	// Unknown requirement type: the criteria check cannot decide, the
	// model assessment carries.
	req := domain.Requirement{
		ID:          uuid.New(),
		Type:        "CUSTOM",
		Description: "Willing to relocate",
		Criteria:    map[string]any{"required": true},
	}
	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return `{"value":{"answer":"yes"},"assessment":"MET","needs_clarification":false,"message":""}`, nil
	}}
	evaluator := NewEvaluator(client, zap.NewNop(), 0)

	eval, err := evaluator.Evaluate(context.Background(), req, "sure")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Status != domain.OutcomeMet {
		t.Fatalf("expected MET from assessment, got %s", eval.Status)
	}
}

func TestEvaluatorNeedsClarification(t *testing.T) {
	t.Parallel()

	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return `{"value":null,"assessment":null,"needs_clarification":true,"message":"Which CDL class do you hold?"}`, nil
	}}
	evaluator := NewEvaluator(client, zap.NewNop(), 0)

	eval, err := evaluator.Evaluate(context.Background(), cdlRequirement(), "I have a license")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eval.NeedsClarification {
		t.Fatal("expected clarification request")
	}
	if eval.Status != domain.OutcomePending {
		t.Fatalf("expected PENDING, got %s", eval.Status)
	}
	if eval.ClarificationPrompt != "Which CDL class do you hold?" {
		t.Fatalf("unexpected clarification prompt %q", eval.ClarificationPrompt)
	}
}

func TestEvaluatorUnparseableResponseAsksAgain(t *testing.T) {
	t.Parallel()

	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return "sorry, I cannot help with that", nil
	}}
	evaluator := NewEvaluator(client, zap.NewNop(), 0)

	eval, err := evaluator.Evaluate(context.Background(), cdlRequirement(), "class A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eval.NeedsClarification {
		t.Fatal("expected clarification on unparseable output")
	}
}

func TestEvaluatorUnavailable(t *testing.T) {
	t.Parallel()

	client := &stubClient{completeFn: func(context.Context, []llm.Message) (string, error) {
		return "", llm.ErrUnavailable
	}}
	evaluator := NewEvaluator(client, zap.NewNop(), 0)

	_, err := evaluator.Evaluate(context.Background(), cdlRequirement(), "class A")
	if !errors.Is(err, ErrEvaluationUnavailable) {
		t.Fatalf("expected ErrEvaluationUnavailable, got %v", err)
	}
}
