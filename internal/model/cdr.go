package model

// CDRStatus is the completeness state of one tracked clinical decision rule.
type CDRStatus string

const (
	CDRStatusPending   CDRStatus = "pending"
	CDRStatusPartial   CDRStatus = "partial"
	CDRStatusCompleted CDRStatus = "completed"
	CDRStatusDismissed CDRStatus = "dismissed"
)

// ComponentSource records where a component answer came from.
type ComponentSource string

const (
	ComponentSourceSection1  ComponentSource = "section1"
	ComponentSourceSection2  ComponentSource = "section2"
	ComponentSourceUserInput ComponentSource = "user_input"
)

// ComponentAnswer is one answered (or unanswered) CDR component.
type ComponentAnswer struct {
	Value    float64         `json:"value"`
	Answered bool            `json:"answered"`
	Source   ComponentSource `json:"source"`
}

// CDRTrackingEntry is one clinical decision rule's state within an
// encounter. Status is always recomputable from Components, except that
// Dismissed overrides it to dismissed. Dismissed and Excluded are
// independent: dismissed hides the rule entirely, excluded keeps it
// visible but omits it from the finalized document.
type CDRTrackingEntry struct {
	Components         map[string]ComponentAnswer `json:"components"`
	Status             CDRStatus                  `json:"status"`
	Score              *float64                   `json:"score"`
	Interpretation     *string                    `json:"interpretation"`
	Dismissed          bool                       `json:"dismissed"`
	Excluded           bool                       `json:"excluded"`
	CompletedInSection *int                       `json:"completed_in_section,omitempty"`
}

// Normalize fills nil maps so consumers never check for missing fields.
func (e *CDRTrackingEntry) Normalize() {
	if e.Components == nil {
		e.Components = map[string]ComponentAnswer{}
	}
	if e.Status == "" {
		e.Status = CDRStatusPending
	}
}

// ScoringMethod selects how a CDR definition turns answers into a score.
type ScoringMethod string

const (
	ScoringMethodSum       ScoringMethod = "sum"
	ScoringMethodThreshold ScoringMethod = "threshold"
	ScoringMethodAlgorithm ScoringMethod = "algorithm"
)

// ScoringRange maps an inclusive score interval to a risk band. Ranges are
// scanned in order and the first match wins.
type ScoringRange struct {
	Min                 float64  `json:"min"`
	Max                 float64  `json:"max"`
	Risk                string   `json:"risk"`
	Interpretation      string   `json:"interpretation"`
	SuggestedTreatments []string `json:"suggested_treatments,omitempty"`
}

// CDRComponent is one question of a decision rule.
type CDRComponent struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	InputType  string          `json:"input_type"`
	Points     *float64        `json:"points,omitempty"`
	SourceHint ComponentSource `json:"source_hint,omitempty"`
}

// ScoringSpec describes how a rule is scored.
type ScoringSpec struct {
	Method ScoringMethod  `json:"method"`
	Ranges []ScoringRange `json:"ranges"`
}

// CDRDefinition is read-only library data describing one decision rule.
type CDRDefinition struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ShortName       string         `json:"short_name"`
	ChiefComplaints []string       `json:"chief_complaints"`
	Components      []CDRComponent `json:"components"`
	Scoring         ScoringSpec    `json:"scoring"`
}
