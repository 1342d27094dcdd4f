package cdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mdm-api/internal/model"
)

func answered(v float64) model.ComponentAnswer {
	return model.ComponentAnswer{Value: v, Answered: true, Source: model.ComponentSourceUserInput}
}

func TestScoreSum(t *testing.T) {
	def := heartScore()

	components := map[string]model.ComponentAnswer{
		"history":      answered(2),
		"ecg":          answered(1),
		"age":          answered(1),
		"risk_factors": answered(0),
		"troponin":     answered(0),
	}

	score, interpretation, err := Score(def, components)
	require.NoError(t, err)
	require.NotNil(t, score)
	assert.Equal(t, 4.0, *score)
	require.NotNil(t, interpretation)
	assert.Contains(t, *interpretation, "observation")
}

func TestScoreIncompleteReturnsNil(t *testing.T) {
	def := heartScore()

	// One declared component missing entirely, another present but not
	// answered yet.
	components := map[string]model.ComponentAnswer{
		"history": answered(2),
		"ecg":     {Answered: false},
	}

	score, interpretation, err := Score(def, components)
	require.NoError(t, err)
	assert.Nil(t, score)
	assert.Nil(t, interpretation)
}

func TestScoreFirstMatchingRangeWins(t *testing.T) {
	def := &model.CDRDefinition{
		ID:   "overlap",
		Name: "Overlapping Ranges",
		Components: []model.CDRComponent{
			{ID: "a", Label: "A"},
		},
		Scoring: model.ScoringSpec{
			Method: model.ScoringMethodSum,
			Ranges: []model.ScoringRange{
				{Min: 0, Max: 5, Risk: "low", Interpretation: "first"},
				{Min: 3, Max: 10, Risk: "moderate", Interpretation: "second"},
			},
		},
	}

	score, interpretation, err := Score(def, map[string]model.ComponentAnswer{"a": answered(4)})
	require.NoError(t, err)
	require.NotNil(t, score)
	assert.Equal(t, 4.0, *score)
	require.NotNil(t, interpretation)
	assert.Equal(t, "first", *interpretation)
}

func TestScoreOutOfAllRanges(t *testing.T) {
	def := heartScore()

	components := map[string]model.ComponentAnswer{
		"history":      answered(20),
		"ecg":          answered(0),
		"age":          answered(0),
		"risk_factors": answered(0),
		"troponin":     answered(0),
	}

	score, interpretation, err := Score(def, components)
	require.NoError(t, err)
	require.NotNil(t, score)
	assert.Equal(t, 20.0, *score)
	assert.Nil(t, interpretation)
}

func TestScoreUnsupportedMethod(t *testing.T) {
	def := percRule()

	components := map[string]model.ComponentAnswer{}
	for _, c := range def.Components {
		components[c.ID] = answered(1)
	}

	score, _, err := Score(def, components)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedScoringMethod)
	assert.Nil(t, score)
}

func TestCompleteness(t *testing.T) {
	def := heartScore()

	assert.Equal(t, model.CDRStatusPending, Completeness(def, nil))

	partial := map[string]model.ComponentAnswer{"history": answered(1)}
	assert.Equal(t, model.CDRStatusPartial, Completeness(def, partial))

	full := map[string]model.ComponentAnswer{}
	for _, c := range def.Components {
		full[c.ID] = answered(1)
	}
	assert.Equal(t, model.CDRStatusCompleted, Completeness(def, full))
}

func TestLibraryForChiefComplaint(t *testing.T) {
	lib := DefaultLibrary()

	defs := lib.ForChiefComplaint("Chest Pain")
	require.Len(t, defs, 3)
	assert.Equal(t, "heart", defs[0].ID)

	defs = lib.ForChiefComplaint("dyspnea")
	require.Len(t, defs, 1)
	assert.Equal(t, "wells_pe", defs[0].ID)

	assert.Empty(t, lib.ForChiefComplaint("headache"))
}
