package screening

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/driverline/screener/internal/llm"
	"github.com/driverline/screener/internal/prompts"
)

// minIntentConfidence is the floor below which a classification is
// treated as ambiguous and the candidate is asked to rephrase.
const minIntentConfidence = 0.6

var (
	affirmativeKeywords = []string{
		"yes", "yeah", "yep", "yup", "sure", "ok", "okay",
		"absolutely", "definitely", "of course", "sounds good",
		"let's go", "lets go", "ready", "i'm in", "im in",
	}
	negativeKeywords = []string{
		"no", "nope", "nah", "not interested", "no thanks",
		"no thank you", "stop", "cancel", "quit", "exit",
		"not right now", "maybe later",
	}
)

// IntentClassifier resolves short free-text replies into binary intents.
// An exact keyword match short-circuits the completion call.
type IntentClassifier struct {
	client llm.Client
	logger *zap.Logger
}

// NewIntentClassifier returns an IntentClassifier using client.
func NewIntentClassifier(client llm.Client, logger *zap.Logger) *IntentClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentClassifier{client: client, logger: logger}
}

// Accept reports whether answer means the candidate agrees to start the
// screening. An unclassifiable answer returns ErrAmbiguousIntent.
func (c *IntentClassifier) Accept(ctx context.Context, answer string) (bool, error) {
	if intent, ok := keywordIntent(answer); ok {
		c.logger.Debug("intent resolved by keyword",
			zap.String("kind", "accept"),
			zap.Bool("intent", intent),
		)
		return intent, nil
	}
	return c.classify(ctx, prompts.AcceptIntent(answer), "accept")
}

// Continue reports whether answer means the candidate wants to keep
// going with the interview.
func (c *IntentClassifier) Continue(ctx context.Context, answer string) (bool, error) {
	if intent, ok := keywordIntent(answer); ok {
		c.logger.Debug("intent resolved by keyword",
			zap.String("kind", "continue"),
			zap.Bool("intent", intent),
		)
		return intent, nil
	}
	return c.classify(ctx, prompts.ContinueIntent(answer), "continue")
}

func (c *IntentClassifier) classify(ctx context.Context, messages []llm.Message, field string) (bool, error) {
	raw, err := c.client.Complete(ctx, messages)
	if err != nil {
		return false, fmt.Errorf("classify %s intent: %w", field, err)
	}

	data, err := parseObject(raw)
	if err != nil {
		c.logger.Warn("unparseable intent response",
			zap.String("kind", field),
			zap.Error(err),
		)
		return false, ErrAmbiguousIntent
	}

	value, ok := data[field]
	if !ok {
		return false, ErrAmbiguousIntent
	}
	confidence := coerceFloat(data["confidence"])
	if math.IsNaN(confidence) || confidence < minIntentConfidence {
		c.logger.Debug("low-confidence intent",
			zap.String("kind", field),
			zap.Float64("confidence", confidence),
		)
		return false, ErrAmbiguousIntent
	}
	return coerceBool(value), nil
}

// keywordIntent attempts an exact match of the normalized answer against
// the keyword lists. Only whole-phrase matches qualify; substring hits
// would misread answers like "no problem, yes".
func keywordIntent(answer string) (intent, ok bool) {
	normalized := normalizeAnswer(answer)
	if normalized == "" {
		return false, false
	}
	for _, kw := range affirmativeKeywords {
		if normalized == kw {
			return true, true
		}
	}
	for _, kw := range negativeKeywords {
		if normalized == kw {
			return false, true
		}
	}
	return false, false
}

func normalizeAnswer(answer string) string {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	return strings.Trim(normalized, ".!?, ")
}
