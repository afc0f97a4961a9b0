package screening

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/driverline/screener/internal/criteria"
	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/llm"
	"github.com/driverline/screener/internal/prompts"
	"github.com/driverline/screener/internal/utils"
)

// maxFollowUps caps the clarification rounds per requirement. Past the
// cap the requirement is recorded NOT_MET instead of looping forever.
const maxFollowUps = 5

const defaultMaxLogLength = 200

// Evaluation is the structured result of judging one answer against
// one requirement.
type Evaluation struct {
	Status             domain.OutcomeStatus
	Value              map[string]any
	NeedsClarification bool
	// ClarificationPrompt is the follow-up question to relay when
	// NeedsClarification is set.
	ClarificationPrompt string
}

// Evaluator turns free-text answers into requirement outcomes via one
// completion call per answer.
type Evaluator struct {
	client    llm.Client
	logger    *zap.Logger
	maxLogLen int
}

// NewEvaluator returns an Evaluator using client.
func NewEvaluator(client llm.Client, logger *zap.Logger, maxLogLength int) *Evaluator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{client: client, logger: logger, maxLogLen: maxLogLength}
}

// Evaluate judges answer against req. A completion failure propagates
// as ErrEvaluationUnavailable and is never mapped to an outcome.
func (e *Evaluator) Evaluate(ctx context.Context, req domain.Requirement, answer string) (*Evaluation, error) {
	messages := prompts.Evaluate(req, answer)

	e.logger.Debug("requirement evaluation request",
		zap.String("requirement_id", req.ID.String()),
		zap.String("requirement_type", req.Type),
		zap.Int("answer_length", utf8.RuneCountInString(answer)),
		zap.String("answer_preview", utils.TruncateForLog(answer, e.maxLogLen)),
	)

	raw, err := e.client.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEvaluationUnavailable, err)
	}

	e.logger.Debug("requirement evaluation response",
		zap.String("requirement_id", req.ID.String()),
		zap.String("response_preview", utils.TruncateForLog(raw, e.maxLogLen)),
	)

	data, err := parseObject(raw)
	if err != nil {
		// Unparseable output is treated the same as an explicit
		// clarification request: ask again rather than guess.
		e.logger.Warn("unparseable evaluation response, requesting clarification",
			zap.String("requirement_id", req.ID.String()),
			zap.Error(err),
		)
		return &Evaluation{Status: domain.OutcomePending, NeedsClarification: true}, nil
	}

	value := coerceMap(data["value"])
	assessment := strings.ToUpper(coerceString(data["assessment"]))
	needsClarification := coerceBool(data["needs_clarification"])
	clarification := coerceString(data["message"])

	if needsClarification {
		return &Evaluation{
			Status:              domain.OutcomePending,
			Value:               value,
			NeedsClarification:  true,
			ClarificationPrompt: clarification,
		}, nil
	}

	status := e.classify(req, value, assessment)
	if status == domain.OutcomePending {
		return &Evaluation{
			Status:              domain.OutcomePending,
			Value:               value,
			NeedsClarification:  true,
			ClarificationPrompt: clarification,
		}, nil
	}

	return &Evaluation{Status: status, Value: value}, nil
}

// classify picks the outcome status. Priority: a deterministic criteria
// check on the extracted value, then the model's own assessment, else
// pending.
func (e *Evaluator) classify(req domain.Requirement, value map[string]any, assessment string) domain.OutcomeStatus {
	if value != nil {
		status, err := criteria.Evaluate(req.Type, req.Criteria, value)
		if err == nil && status.Terminal() {
			return status
		}
		if err != nil {
			e.logger.Warn("criteria evaluation failed, falling back to model assessment",
				zap.String("requirement_id", req.ID.String()),
				zap.Error(err),
			)
		}
	}

	switch assessment {
	case string(domain.OutcomeMet):
		return domain.OutcomeMet
	case string(domain.OutcomeNotMet):
		return domain.OutcomeNotMet
	default:
		return domain.OutcomePending
	}
}
