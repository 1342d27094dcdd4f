package cdr

import (
	"strings"

	"github.com/jwalitptl/mdm-api/internal/model"
)

// Library is the read-only catalogue of clinical decision rules. Rules are
// registered at startup and never mutated afterwards.
type Library struct {
	defs  map[string]*model.CDRDefinition
	order []string
}

func NewLibrary(defs ...*model.CDRDefinition) *Library {
	lib := &Library{defs: make(map[string]*model.CDRDefinition)}
	for _, def := range defs {
		if _, exists := lib.defs[def.ID]; exists {
			continue
		}
		lib.defs[def.ID] = def
		lib.order = append(lib.order, def.ID)
	}
	return lib
}

// DefaultLibrary returns the built-in rule catalogue.
func DefaultLibrary() *Library {
	return NewLibrary(heartScore(), wellsPE(), percRule())
}

func (l *Library) Get(id string) (*model.CDRDefinition, bool) {
	def, ok := l.defs[id]
	return def, ok
}

// ForChiefComplaint returns the rules applicable to a chief complaint, in
// registration order.
func (l *Library) ForChiefComplaint(complaint string) []*model.CDRDefinition {
	needle := strings.ToLower(strings.TrimSpace(complaint))
	var matched []*model.CDRDefinition
	for _, id := range l.order {
		def := l.defs[id]
		for _, cc := range def.ChiefComplaints {
			if strings.ToLower(cc) == needle {
				matched = append(matched, def)
				break
			}
		}
	}
	return matched
}

func points(v float64) *float64 { return &v }

func heartScore() *model.CDRDefinition {
	return &model.CDRDefinition{
		ID:              "heart",
		Name:            "HEART Score for Major Cardiac Events",
		ShortName:       "HEART",
		ChiefComplaints: []string{"chest pain"},
		Components: []model.CDRComponent{
			{ID: "history", Label: "History", InputType: "select", Points: points(2), SourceHint: model.ComponentSourceSection1},
			{ID: "ecg", Label: "ECG", InputType: "select", Points: points(2), SourceHint: model.ComponentSourceSection2},
			{ID: "age", Label: "Age", InputType: "select", Points: points(2), SourceHint: model.ComponentSourceSection1},
			{ID: "risk_factors", Label: "Risk factors", InputType: "select", Points: points(2), SourceHint: model.ComponentSourceUserInput},
			{ID: "troponin", Label: "Initial troponin", InputType: "select", Points: points(2), SourceHint: model.ComponentSourceSection2},
		},
		Scoring: model.ScoringSpec{
			Method: model.ScoringMethodSum,
			Ranges: []model.ScoringRange{
				{Min: 0, Max: 3, Risk: "low", Interpretation: "0.9-1.7% risk of MACE; consider discharge with outpatient follow-up"},
				{Min: 4, Max: 6, Risk: "moderate", Interpretation: "12-16.6% risk of MACE; admit for observation",
					SuggestedTreatments: []string{"serial troponins", "observation admission"}},
				{Min: 7, Max: 10, Risk: "high", Interpretation: "50-65% risk of MACE; early invasive strategy",
					SuggestedTreatments: []string{"cardiology consultation", "early invasive strategy"}},
			},
		},
	}
}

func wellsPE() *model.CDRDefinition {
	return &model.CDRDefinition{
		ID:              "wells_pe",
		Name:            "Wells' Criteria for Pulmonary Embolism",
		ShortName:       "Wells' PE",
		ChiefComplaints: []string{"chest pain", "shortness of breath", "dyspnea"},
		Components: []model.CDRComponent{
			{ID: "dvt_signs", Label: "Clinical signs of DVT", InputType: "boolean", Points: points(3), SourceHint: model.ComponentSourceUserInput},
			{ID: "pe_most_likely", Label: "PE most likely diagnosis", InputType: "boolean", Points: points(3), SourceHint: model.ComponentSourceSection1},
			{ID: "heart_rate_gt_100", Label: "Heart rate > 100", InputType: "boolean", Points: points(1.5), SourceHint: model.ComponentSourceUserInput},
			{ID: "immobilization", Label: "Immobilization or surgery within 4 weeks", InputType: "boolean", Points: points(1.5), SourceHint: model.ComponentSourceUserInput},
			{ID: "prior_dvt_pe", Label: "Previous DVT/PE", InputType: "boolean", Points: points(1.5), SourceHint: model.ComponentSourceUserInput},
			{ID: "hemoptysis", Label: "Hemoptysis", InputType: "boolean", Points: points(1), SourceHint: model.ComponentSourceSection1},
			{ID: "malignancy", Label: "Malignancy", InputType: "boolean", Points: points(1), SourceHint: model.ComponentSourceUserInput},
		},
		Scoring: model.ScoringSpec{
			Method: model.ScoringMethodSum,
			Ranges: []model.ScoringRange{
				{Min: 0, Max: 1.5, Risk: "low", Interpretation: "Low risk; consider PERC or d-dimer"},
				{Min: 2, Max: 6, Risk: "moderate", Interpretation: "Moderate risk; d-dimer recommended",
					SuggestedTreatments: []string{"d-dimer"}},
				{Min: 6.5, Max: 12.5, Risk: "high", Interpretation: "High risk; CT angiography recommended",
					SuggestedTreatments: []string{"CT pulmonary angiography", "consider empiric anticoagulation"}},
			},
		},
	}
}

// PERC carries a threshold method the generic engine does not implement;
// scoring it returns ErrUnsupportedScoringMethod until the rule-out logic
// lands.
func percRule() *model.CDRDefinition {
	return &model.CDRDefinition{
		ID:              "perc",
		Name:            "PERC Rule for Pulmonary Embolism",
		ShortName:       "PERC",
		ChiefComplaints: []string{"chest pain", "shortness of breath"},
		Components: []model.CDRComponent{
			{ID: "age_lt_50", Label: "Age < 50", InputType: "boolean", SourceHint: model.ComponentSourceSection1},
			{ID: "hr_lt_100", Label: "Heart rate < 100", InputType: "boolean", SourceHint: model.ComponentSourceUserInput},
			{ID: "sat_gte_95", Label: "O2 saturation >= 95%", InputType: "boolean", SourceHint: model.ComponentSourceUserInput},
			{ID: "no_hemoptysis", Label: "No hemoptysis", InputType: "boolean", SourceHint: model.ComponentSourceSection1},
			{ID: "no_estrogen", Label: "No estrogen use", InputType: "boolean", SourceHint: model.ComponentSourceUserInput},
			{ID: "no_prior_dvt_pe", Label: "No prior DVT/PE", InputType: "boolean", SourceHint: model.ComponentSourceUserInput},
			{ID: "no_leg_swelling", Label: "No unilateral leg swelling", InputType: "boolean", SourceHint: model.ComponentSourceUserInput},
			{ID: "no_recent_surgery", Label: "No recent surgery or trauma", InputType: "boolean", SourceHint: model.ComponentSourceUserInput},
		},
		Scoring: model.ScoringSpec{
			Method: model.ScoringMethodThreshold,
		},
	}
}
