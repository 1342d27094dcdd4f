package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	enc := &Encounter{}
	enc.Normalize()

	assert.Equal(t, EncounterStatusPending, enc.Status)
	assert.Equal(t, EncounterModeBuild, enc.Mode)
	assert.Equal(t, 1, enc.CurrentSection)
	assert.Equal(t, SectionStatusPending, enc.Section1.Status)
	assert.NotNil(t, enc.Section2.SelectedTests)
	assert.NotNil(t, enc.Section2.TestResults)
	assert.NotNil(t, enc.Section3.Treatments)
	assert.NotNil(t, enc.CDRTracking)
}

func TestNormalizeClampsCurrentSection(t *testing.T) {
	enc := &Encounter{CurrentSection: 7}
	enc.Normalize()
	assert.Equal(t, 3, enc.CurrentSection)

	enc = &Encounter{CurrentSection: -1}
	enc.Normalize()
	assert.Equal(t, 1, enc.CurrentSection)
}

func TestDeriveStatusAdvances(t *testing.T) {
	enc := &Encounter{}
	enc.Normalize()
	assert.Equal(t, EncounterStatusPending, enc.DeriveStatus())

	enc.Section1.Status = SectionStatusCompleted
	assert.Equal(t, EncounterStatusSection1Done, enc.DeriveStatus())

	enc.Section2.Status = SectionStatusCompleted
	assert.Equal(t, EncounterStatusSection2Done, enc.DeriveStatus())
}

func TestDeriveStatusNeverRegresses(t *testing.T) {
	enc := &Encounter{Status: EncounterStatusSection2Done}
	enc.Normalize()

	// Sections look incomplete (e.g. a partial snapshot) but the stored
	// status is ahead: keep it.
	assert.Equal(t, EncounterStatusSection2Done, enc.DeriveStatus())

	enc.Status = EncounterStatusFinalized
	assert.Equal(t, EncounterStatusFinalized, enc.DeriveStatus())

	enc.Status = EncounterStatusArchived
	assert.Equal(t, EncounterStatusArchived, enc.DeriveStatus())
}

func TestSectionByNumber(t *testing.T) {
	enc := &Encounter{}
	enc.Normalize()

	require.NotNil(t, enc.SectionByNumber(1))
	require.NotNil(t, enc.SectionByNumber(2))
	require.NotNil(t, enc.SectionByNumber(3))
	assert.Nil(t, enc.SectionByNumber(0))
	assert.Nil(t, enc.SectionByNumber(4))

	enc.Section2.SubmissionCount = 2
	assert.Equal(t, 2, enc.SectionByNumber(2).SubmissionCount)
}

func TestSectionsRoundTripThroughJSONColumns(t *testing.T) {
	enc := &Encounter{}
	enc.Normalize()
	enc.Section1.Content = "differential narrative"
	enc.Section1.Status = SectionStatusCompleted
	enc.Section2.SelectedTests = []string{"troponin"}
	enc.CDRTracking["heart"] = &CDRTrackingEntry{
		Components: map[string]ComponentAnswer{"history": {Value: 2, Answered: true}},
		Status:     CDRStatusPartial,
	}

	require.NoError(t, enc.MarshalSections())

	restored := &Encounter{
		Section1JSON:    enc.Section1JSON,
		Section2JSON:    enc.Section2JSON,
		Section3JSON:    enc.Section3JSON,
		CDRTrackingJSON: enc.CDRTrackingJSON,
	}
	require.NoError(t, restored.UnmarshalSections())

	assert.Equal(t, "differential narrative", restored.Section1.Content)
	assert.Equal(t, []string{"troponin"}, restored.Section2.SelectedTests)
	require.NotNil(t, restored.CDRTracking["heart"])
	assert.Equal(t, 2.0, restored.CDRTracking["heart"].Components["history"].Value)
}

func TestUnmarshalSectionsToleratesMissingColumns(t *testing.T) {
	enc := &Encounter{}
	require.NoError(t, enc.UnmarshalSections())
	assert.Equal(t, SectionStatusPending, enc.Section1.Status)
	assert.NotNil(t, enc.CDRTracking)
}

func TestTrackingEntrySerializesOptionalFields(t *testing.T) {
	score := 4.0
	section := 1
	entry := &CDRTrackingEntry{
		Components:         map[string]ComponentAnswer{},
		Status:             CDRStatusCompleted,
		Score:              &score,
		CompletedInSection: &section,
	}

	payload, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"completed_in_section":1`)

	bare := &CDRTrackingEntry{Components: map[string]ComponentAnswer{}}
	payload, err = json.Marshal(bare)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "completed_in_section")
}
