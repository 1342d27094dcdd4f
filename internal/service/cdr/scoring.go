package cdr

import (
	"errors"
	"fmt"

	"github.com/jwalitptl/mdm-api/internal/model"
)

// ErrUnsupportedScoringMethod is returned for scoring methods that are
// declared in the rule library but have no generic implementation. Callers
// must handle it explicitly rather than treating the rule as unscored.
var ErrUnsupportedScoringMethod = errors.New("scoring method not implemented")

// Score computes (score, interpretation) for one rule. Both are nil unless
// every component the definition declares has been answered. For the sum
// method the score is the arithmetic sum of the answered values and the
// interpretation comes from the first range containing the score; ranges
// are scanned in declaration order, so overlapping ranges resolve to the
// first match.
func Score(def *model.CDRDefinition, components map[string]model.ComponentAnswer) (*float64, *string, error) {
	switch def.Scoring.Method {
	case model.ScoringMethodSum:
	case model.ScoringMethodThreshold, model.ScoringMethodAlgorithm:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedScoringMethod, def.Scoring.Method)
	default:
		return nil, nil, fmt.Errorf("unknown scoring method %q", def.Scoring.Method)
	}

	for _, comp := range def.Components {
		answer, ok := components[comp.ID]
		if !ok || !answer.Answered {
			return nil, nil, nil
		}
	}

	var total float64
	for _, comp := range def.Components {
		total += components[comp.ID].Value
	}

	var interpretation *string
	for _, rng := range def.Scoring.Ranges {
		if total >= rng.Min && total <= rng.Max {
			v := rng.Interpretation
			interpretation = &v
			break
		}
	}

	return &total, interpretation, nil
}

// Completeness applies the status rule: pending with zero answers,
// completed when every declared component is answered, partial otherwise.
func Completeness(def *model.CDRDefinition, components map[string]model.ComponentAnswer) model.CDRStatus {
	answered := 0
	for _, comp := range def.Components {
		if a, ok := components[comp.ID]; ok && a.Answered {
			answered++
		}
	}
	switch {
	case answered == 0:
		return model.CDRStatusPending
	case answered == len(def.Components):
		return model.CDRStatusCompleted
	default:
		return model.CDRStatusPartial
	}
}
