package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adsettle/backend/internal/models"
	"github.com/adsettle/backend/internal/platform"
)

func i64(v int64) *int64 { return &v }

func TestEvaluateRequirements(t *testing.T) {
	tests := []struct {
		name    string
		reqs    []models.Requirement
		metrics *platform.PostMetrics
		allMet  bool
	}{
		{
			name:   "no requirements always passes",
			reqs:   nil,
			allMet: true,
		},
		{
			name: "views target reached",
			reqs: []models.Requirement{
				{Kind: models.RequirementKindViews, Target: 1000},
			},
			metrics: &platform.PostMetrics{Exists: true, Views: i64(1500)},
			allMet:  true,
		},
		{
			name: "views target exactly met",
			reqs: []models.Requirement{
				{Kind: models.RequirementKindViews, Target: 1000},
			},
			metrics: &platform.PostMetrics{Exists: true, Views: i64(1000)},
			allMet:  true,
		},
		{
			name: "views target missed",
			reqs: []models.Requirement{
				{Kind: models.RequirementKindViews, Target: 1000},
			},
			metrics: &platform.PostMetrics{Exists: true, Views: i64(999)},
			allMet:  false,
		},
		{
			name: "metric not reported by platform is unmet",
			reqs: []models.Requirement{
				{Kind: models.RequirementKindLikes, Target: 10},
			},
			metrics: &platform.PostMetrics{Exists: true, Views: i64(5000)},
			allMet:  false,
		},
		{
			name: "waived requirement passes without metrics",
			reqs: []models.Requirement{
				{Kind: models.RequirementKindComments, Target: 50, Waived: true},
			},
			metrics: nil,
			allMet:  true,
		},
		{
			name: "custom requirement needs manual confirmation",
			reqs: []models.Requirement{
				{Kind: models.RequirementKindCustom},
			},
			metrics: &platform.PostMetrics{Exists: true},
			allMet:  false,
		},
		{
			name: "custom requirement confirmed manually",
			reqs: []models.Requirement{
				{Kind: models.RequirementKindCustom, ConfirmedManually: true},
			},
			metrics: &platform.PostMetrics{Exists: true},
			allMet:  true,
		},
		{
			name: "unknown kind is unmet",
			reqs: []models.Requirement{
				{Kind: "shares", Target: 1},
			},
			metrics: &platform.PostMetrics{Exists: true},
			allMet:  false,
		},
		{
			name: "unknown kind waived passes",
			reqs: []models.Requirement{
				{Kind: "shares", Target: 1, Waived: true},
			},
			metrics: &platform.PostMetrics{Exists: true},
			allMet:  true,
		},
		{
			name: "one unmet fails the whole set",
			reqs: []models.Requirement{
				{Kind: models.RequirementKindViews, Target: 100},
				{Kind: models.RequirementKindLikes, Target: 10},
			},
			metrics: &platform.PostMetrics{Exists: true, Views: i64(200), Likes: i64(9)},
			allMet:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := EvaluateRequirements(tt.reqs, tt.metrics)
			assert.Equal(t, tt.allMet, ev.AllMet)
			assert.Len(t, ev.Results, len(tt.reqs))
		})
	}
}

func TestEvaluateRequirementsReportsObserved(t *testing.T) {
	reqs := []models.Requirement{
		{Kind: models.RequirementKindViews, Target: 100},
		{Kind: models.RequirementKindCustom},
	}
	ev := EvaluateRequirements(reqs, &platform.PostMetrics{Exists: true, Views: i64(250)})

	assert.NotNil(t, ev.Results[0].Observed)
	assert.EqualValues(t, 250, *ev.Results[0].Observed)
	// Custom requirements have no platform counter behind them.
	assert.Nil(t, ev.Results[1].Observed)
}
