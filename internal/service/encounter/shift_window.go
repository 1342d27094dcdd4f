package encounter

import (
	"fmt"
	"time"

	"github.com/jwalitptl/mdm-api/internal/model"
)

// Shift-window constants. An encounter is visible for twelve hours after
// the shift starts; the last hour counts as expiring soon.
const (
	ShiftWindowDuration   = 12 * time.Hour
	ExpiringSoonThreshold = 1 * time.Hour
)

// ShiftWindow is a pure derivation of the countdown state at one instant.
type ShiftWindow struct {
	Remaining      time.Duration `json:"remaining_seconds"`
	IsExpired      bool          `json:"is_expired"`
	IsExpiringSoon bool          `json:"is_expiring_soon"`
	Formatted      string        `json:"formatted"`
}

// ComputeShiftWindow derives the countdown for an encounter. Archived
// encounters always format as "Archived" regardless of elapsed time.
func ComputeShiftWindow(shiftStartedAt, now time.Time, status model.EncounterStatus) ShiftWindow {
	remaining := shiftStartedAt.Add(ShiftWindowDuration).Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	w := ShiftWindow{
		Remaining:      remaining,
		IsExpired:      remaining <= 0,
		IsExpiringSoon: remaining > 0 && remaining < ExpiringSoonThreshold,
	}

	switch {
	case status == model.EncounterStatusArchived:
		w.Formatted = "Archived"
	case w.IsExpired:
		w.Formatted = "Expired"
	default:
		hours := int(remaining.Hours())
		minutes := int(remaining.Minutes()) % 60
		w.Formatted = fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return w
}

// ShouldArchive reports whether the shift window has closed on an
// encounter that is neither finalized nor archived. Advisory only: the
// archival sweep decides when to act on it.
func ShouldArchive(shiftStartedAt time.Time, status model.EncounterStatus, now time.Time) bool {
	if status == model.EncounterStatusArchived || status == model.EncounterStatusFinalized {
		return false
	}
	return !shiftStartedAt.Add(ShiftWindowDuration).After(now)
}
