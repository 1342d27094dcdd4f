package encounter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/mdm-api/internal/model"
)

func TestComputeShiftWindowFormatting(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		elapsed   time.Duration
		status    model.EncounterStatus
		formatted string
		expired   bool
		soon      bool
	}{
		{"fresh", 0, model.EncounterStatusPending, "12h 0m", false, false},
		{"mid shift", 5*time.Hour + 30*time.Minute, model.EncounterStatusPending, "6h 30m", false, false},
		{"under an hour left", 11*time.Hour + 30*time.Minute, model.EncounterStatusSection1Done, "0h 30m", false, true},
		{"exactly expired", 12 * time.Hour, model.EncounterStatusPending, "Expired", true, false},
		{"long expired", 20 * time.Hour, model.EncounterStatusFinalized, "Expired", true, false},
		{"archived wins over countdown", time.Hour, model.EncounterStatusArchived, "Archived", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ComputeShiftWindow(now.Add(-tt.elapsed), now, tt.status)
			assert.Equal(t, tt.formatted, w.Formatted)
			assert.Equal(t, tt.expired, w.IsExpired)
			assert.Equal(t, tt.soon, w.IsExpiringSoon)
		})
	}
}

func TestShouldArchive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour)
	stale := now.Add(-13 * time.Hour)

	assert.False(t, ShouldArchive(fresh, model.EncounterStatusPending, now))
	assert.True(t, ShouldArchive(stale, model.EncounterStatusPending, now))
	assert.True(t, ShouldArchive(stale, model.EncounterStatusSection2Done, now))

	// Terminal states never archive.
	assert.False(t, ShouldArchive(stale, model.EncounterStatusFinalized, now))
	assert.False(t, ShouldArchive(stale, model.EncounterStatusArchived, now))

	// Boundary: the window closes at exactly twelve hours.
	assert.True(t, ShouldArchive(now.Add(-12*time.Hour), model.EncounterStatusPending, now))
}
