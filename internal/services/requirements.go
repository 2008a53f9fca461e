package services

import (
	"github.com/adsettle/backend/internal/models"
	"github.com/adsettle/backend/internal/platform"
)

// RequirementResult pairs a requirement with the verdict for one evaluation
// pass. Observed is nil when the platform did not report the metric.
type RequirementResult struct {
	Requirement models.Requirement
	Met         bool
	Observed    *int64
}

type Evaluation struct {
	AllMet  bool
	Results []RequirementResult
}

// EvaluateRequirements checks every requirement against the fetched post
// metrics. Pure function, no side effects.
//
// A requirement is met when the observed metric reaches its target, when it
// was waived, or, for custom requirements, when an operator confirmed it
// manually. A metric the platform cannot report leaves the requirement
// unmet, it does not fail the evaluation with an error. Unknown requirement
// kinds are unmet unless waived, so a new kind rolled out ahead of worker
// support can never release funds by accident.
func EvaluateRequirements(reqs []models.Requirement, metrics *platform.PostMetrics) Evaluation {
	ev := Evaluation{AllMet: true, Results: make([]RequirementResult, 0, len(reqs))}
	for _, r := range reqs {
		res := RequirementResult{Requirement: r}
		switch {
		case r.Waived:
			res.Met = true
		case r.Kind == models.RequirementKindCustom:
			res.Met = r.ConfirmedManually
		default:
			res.Observed = metricFor(r.Kind, metrics)
			res.Met = res.Observed != nil && *res.Observed >= r.Target
		}
		if !res.Met {
			ev.AllMet = false
		}
		ev.Results = append(ev.Results, res)
	}
	return ev
}

func metricFor(kind string, m *platform.PostMetrics) *int64 {
	if m == nil {
		return nil
	}
	switch kind {
	case models.RequirementKindViews:
		return m.Views
	case models.RequirementKindLikes:
		return m.Likes
	case models.RequirementKindComments:
		return m.Comments
	default:
		return nil
	}
}
