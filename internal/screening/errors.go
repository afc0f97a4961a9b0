package screening

import "errors"

var (
	// ErrNoRequirements means the job defines zero requirements; the
	// conversation cannot be screened.
	ErrNoRequirements = errors.New("job has no requirements")

	// ErrEvaluationUnavailable means the completion call behind a
	// requirement evaluation failed. Retryable by the caller; never
	// silently mapped to a requirement outcome.
	ErrEvaluationUnavailable = errors.New("requirement evaluation unavailable")

	// ErrAmbiguousIntent means an intent classifier could not decide.
	// The orchestrator re-prompts without changing state.
	ErrAmbiguousIntent = errors.New("ambiguous intent")

	// ErrSummaryUnavailable means the condensation call failed; the
	// completion flow falls back to local truncation.
	ErrSummaryUnavailable = errors.New("summary condensation unavailable")

	// ErrConversationClosed means a turn arrived for a conversation in
	// its terminal state.
	ErrConversationClosed = errors.New("conversation is closed")
)
