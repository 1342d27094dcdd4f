package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EncounterStatus string

const (
	EncounterStatusPending      EncounterStatus = "pending"
	EncounterStatusSection1Done EncounterStatus = "section1_done"
	EncounterStatusSection2Done EncounterStatus = "section2_done"
	EncounterStatusFinalized    EncounterStatus = "finalized"
	EncounterStatusArchived     EncounterStatus = "archived"
)

type EncounterMode string

const (
	EncounterModeBuild EncounterMode = "build"
	EncounterModeQuick EncounterMode = "quick"
)

type SectionStatus string

const (
	SectionStatusPending    SectionStatus = "pending"
	SectionStatusInProgress SectionStatus = "in_progress"
	SectionStatusCompleted  SectionStatus = "completed"
)

// Section is one of the three sequential steps of an encounter.
// IsLocked is a latch: once true the section never accepts another
// submission, regardless of status.
type Section struct {
	Status          SectionStatus   `json:"status"`
	Content         string          `json:"content"`
	SubmissionCount int             `json:"submission_count"`
	IsLocked        bool            `json:"is_locked"`
	LLMResponse     json.RawMessage `json:"llm_response,omitempty"`
}

// TestResult is one workup test outcome entered by the clinician.
type TestResult struct {
	Value    string `json:"value"`
	Abnormal bool   `json:"abnormal"`
	Note     string `json:"note,omitempty"`
}

// WorkupSection is section 2: test selection and results. Pure local data
// entry, no generation call.
type WorkupSection struct {
	Section
	SelectedTests     []string              `json:"selected_tests"`
	TestResults       map[string]TestResult `json:"test_results"`
	AllUnremarkable   bool                  `json:"all_unremarkable"`
	RawLabText        string                `json:"raw_lab_text,omitempty"`
	AppliedOrderSetID *uuid.UUID            `json:"applied_order_set_id,omitempty"`
}

// DispositionSection is section 3: treatments, disposition and follow-up.
type DispositionSection struct {
	Section
	Treatments             []string   `json:"treatments"`
	CDRSuggestedTreatments []string   `json:"cdr_suggested_treatments"`
	Disposition            string     `json:"disposition"`
	FollowUps              []string   `json:"follow_ups"`
	AppliedDispoFlowID     *uuid.UUID `json:"applied_dispo_flow_id,omitempty"`
}

// Encounter is the root aggregate for one clinical documentation session.
// The three section columns and the CDR tracking map are stored as jsonb;
// the typed fields are populated by Normalize after a read.
type Encounter struct {
	Base
	UserID         uuid.UUID       `db:"user_id" json:"user_id"`
	Status         EncounterStatus `db:"status" json:"status"`
	Mode           EncounterMode   `db:"mode" json:"mode"`
	CurrentSection int             `db:"current_section" json:"current_section"`
	ChiefComplaint string          `db:"chief_complaint" json:"chief_complaint"`
	QuickNote      string          `db:"quick_note" json:"quick_note,omitempty"`

	Section1JSON    json.RawMessage `db:"section1" json:"-"`
	Section2JSON    json.RawMessage `db:"section2" json:"-"`
	Section3JSON    json.RawMessage `db:"section3" json:"-"`
	CDRTrackingJSON json.RawMessage `db:"cdr_tracking" json:"-"`

	Section1    Section                      `db:"-" json:"section1"`
	Section2    WorkupSection                `db:"-" json:"section2"`
	Section3    DispositionSection           `db:"-" json:"section3"`
	CDRTracking map[string]*CDRTrackingEntry `db:"-" json:"cdr_tracking"`

	ShiftStartedAt time.Time  `db:"shift_started_at" json:"shift_started_at"`
	QuotaCounted   bool       `db:"quota_counted" json:"quota_counted"`
	QuotaCountedAt *time.Time `db:"quota_counted_at" json:"quota_counted_at,omitempty"`
}

// Normalize fills every optional field with its zero-value default so code
// past the repository boundary never re-checks for missing data. It is the
// single place wire defaults are applied.
func (e *Encounter) Normalize() {
	if e.Status == "" {
		e.Status = EncounterStatusPending
	}
	if e.Mode == "" {
		e.Mode = EncounterModeBuild
	}
	if e.CurrentSection < 1 {
		e.CurrentSection = 1
	}
	if e.CurrentSection > 3 {
		e.CurrentSection = 3
	}
	normalizeSection(&e.Section1)
	normalizeSection(&e.Section2.Section)
	normalizeSection(&e.Section3.Section)
	if e.Section2.SelectedTests == nil {
		e.Section2.SelectedTests = []string{}
	}
	if e.Section2.TestResults == nil {
		e.Section2.TestResults = map[string]TestResult{}
	}
	if e.Section3.Treatments == nil {
		e.Section3.Treatments = []string{}
	}
	if e.Section3.CDRSuggestedTreatments == nil {
		e.Section3.CDRSuggestedTreatments = []string{}
	}
	if e.Section3.FollowUps == nil {
		e.Section3.FollowUps = []string{}
	}
	if e.CDRTracking == nil {
		e.CDRTracking = map[string]*CDRTrackingEntry{}
	}
	for _, entry := range e.CDRTracking {
		entry.Normalize()
	}
}

func normalizeSection(s *Section) {
	if s.Status == "" {
		s.Status = SectionStatusPending
	}
	if s.SubmissionCount < 0 {
		s.SubmissionCount = 0
	}
}

// SectionByNumber returns the base section record for 1..3, nil otherwise.
func (e *Encounter) SectionByNumber(n int) *Section {
	switch n {
	case 1:
		return &e.Section1
	case 2:
		return &e.Section2.Section
	case 3:
		return &e.Section3.Section
	default:
		return nil
	}
}

// DeriveStatus recomputes the coarse workflow status from the section
// statuses. The status only ever advances; finalized and archived are
// terminal and never recomputed away.
func (e *Encounter) DeriveStatus() EncounterStatus {
	if e.Status == EncounterStatusFinalized || e.Status == EncounterStatusArchived {
		return e.Status
	}
	derived := EncounterStatusPending
	if e.Section1.Status == SectionStatusCompleted {
		derived = EncounterStatusSection1Done
	}
	if e.Section2.Status == SectionStatusCompleted {
		derived = EncounterStatusSection2Done
	}
	if statusRank(derived) < statusRank(e.Status) {
		return e.Status
	}
	return derived
}

func statusRank(s EncounterStatus) int {
	switch s {
	case EncounterStatusPending:
		return 0
	case EncounterStatusSection1Done:
		return 1
	case EncounterStatusSection2Done:
		return 2
	case EncounterStatusFinalized:
		return 3
	case EncounterStatusArchived:
		return 4
	default:
		return 0
	}
}

// MarshalSections serializes the typed section fields back into the raw
// jsonb columns before a write.
func (e *Encounter) MarshalSections() error {
	var err error
	if e.Section1JSON, err = json.Marshal(e.Section1); err != nil {
		return err
	}
	if e.Section2JSON, err = json.Marshal(e.Section2); err != nil {
		return err
	}
	if e.Section3JSON, err = json.Marshal(e.Section3); err != nil {
		return err
	}
	if e.CDRTrackingJSON, err = json.Marshal(e.CDRTracking); err != nil {
		return err
	}
	return nil
}

// UnmarshalSections populates the typed section fields from the raw jsonb
// columns after a read. Missing columns degrade to empty sections.
func (e *Encounter) UnmarshalSections() error {
	if len(e.Section1JSON) > 0 {
		if err := json.Unmarshal(e.Section1JSON, &e.Section1); err != nil {
			return err
		}
	}
	if len(e.Section2JSON) > 0 {
		if err := json.Unmarshal(e.Section2JSON, &e.Section2); err != nil {
			return err
		}
	}
	if len(e.Section3JSON) > 0 {
		if err := json.Unmarshal(e.Section3JSON, &e.Section3); err != nil {
			return err
		}
	}
	if len(e.CDRTrackingJSON) > 0 {
		if err := json.Unmarshal(e.CDRTrackingJSON, &e.CDRTracking); err != nil {
			return err
		}
	}
	e.Normalize()
	return nil
}
