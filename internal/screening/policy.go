package screening

import (
	"sort"

	"github.com/driverline/screener/internal/domain"
)

// gatingSize is how many requirements, by lowest priority, gate the
// live pass/fail transition. Jobs may define more; only these decide.
const gatingSize = 3

// RequirementOutcome pairs a requirement definition with its outcome
// for one conversation. The decision policy operates on these pairs.
type RequirementOutcome struct {
	Requirement domain.Requirement
	Outcome     domain.Outcome
}

// Join matches outcomes to their requirement definitions. Requirements
// without an outcome yet get a pending placeholder so the policy
// functions can treat partially created outcome sets uniformly.
func Join(requirements []domain.Requirement, outcomes []domain.Outcome) []RequirementOutcome {
	byRequirement := make(map[string]domain.Outcome, len(outcomes))
	for _, out := range outcomes {
		byRequirement[out.RequirementID.String()] = out
	}

	pairs := make([]RequirementOutcome, 0, len(requirements))
	for _, req := range requirements {
		out, ok := byRequirement[req.ID.String()]
		if !ok {
			out = domain.Outcome{RequirementID: req.ID, Status: domain.OutcomePending}
		}
		pairs = append(pairs, RequirementOutcome{Requirement: req, Outcome: out})
	}
	return pairs
}

// GatingSet returns the pairs whose requirements have the lowest
// priority values, at most gatingSize of them. Ties break by
// requirement ID ascending so the set is deterministic.
func GatingSet(pairs []RequirementOutcome) []RequirementOutcome {
	sorted := append([]RequirementOutcome(nil), pairs...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Requirement, sorted[j].Requirement
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID.String() < b.ID.String()
	})
	if len(sorted) > gatingSize {
		sorted = sorted[:gatingSize]
	}
	return sorted
}

// AllGatingMet reports whether every outcome in the gating set is MET.
// False for an empty set.
func AllGatingMet(pairs []RequirementOutcome) bool {
	gating := GatingSet(pairs)
	if len(gating) == 0 {
		return false
	}
	for _, pair := range gating {
		if pair.Outcome.Status != domain.OutcomeMet {
			return false
		}
	}
	return true
}

// AnyGatingNotMet reports whether any outcome in the gating set is
// NOT_MET.
func AnyGatingNotMet(pairs []RequirementOutcome) bool {
	for _, pair := range GatingSet(pairs) {
		if pair.Outcome.Status == domain.OutcomeNotMet {
			return true
		}
	}
	return false
}

// GatingComplete reports whether the gating set has been fully worked
// through and every required member is MET. Non-required members may be
// NOT_MET without blocking progression. Used by the live transition
// into the job-questions phase.
func GatingComplete(pairs []RequirementOutcome) bool {
	gating := GatingSet(pairs)
	if len(gating) == 0 {
		return false
	}
	for _, pair := range gating {
		if !pair.Outcome.Status.Terminal() {
			return false
		}
		if pair.Requirement.Required() && pair.Outcome.Status != domain.OutcomeMet {
			return false
		}
	}
	return true
}

// AllRequiredMet reports whether every outcome whose requirement is
// flagged required is MET, across the full outcome set. This is the
// stricter audit check; the live transition uses the gating set.
func AllRequiredMet(pairs []RequirementOutcome) bool {
	for _, pair := range pairs {
		if pair.Requirement.Required() && pair.Outcome.Status != domain.OutcomeMet {
			return false
		}
	}
	return true
}

// NextPending returns the lowest-priority requirement without a
// terminal outcome, or nil when none remain. Only the gating set is
// considered; requirements beyond it are never asked.
func NextPending(pairs []RequirementOutcome) *domain.Requirement {
	for _, pair := range GatingSet(pairs) {
		if !pair.Outcome.Status.Terminal() {
			req := pair.Requirement
			return &req
		}
	}
	return nil
}

// TopEvaluated returns the highest-priority (lowest rank value)
// requirement that has a terminal outcome, or nil. Used only as a
// structural placeholder for the terminal-state snapshot; it is never
// re-evaluated.
func TopEvaluated(pairs []RequirementOutcome) *domain.Requirement {
	for _, pair := range GatingSet(pairs) {
		if pair.Outcome.Status.Terminal() {
			req := pair.Requirement
			return &req
		}
	}
	return nil
}
