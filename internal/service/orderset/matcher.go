package orderset

import (
	"strings"

	"github.com/jwalitptl/mdm-api/internal/model"
)

// Match scores the user's order sets against the differential text and
// returns the best match, or nil when nothing scores above zero. Tags
// count double because they are curated; name words are weaker evidence.
// Ties keep the earlier set, so the caller's ordering decides.
func Match(sets []*model.OrderSet, differentialText string) *model.OrderSet {
	text := strings.ToLower(differentialText)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var best *model.OrderSet
	bestScore := 0
	for _, set := range sets {
		score := scoreSet(set, text)
		if score > bestScore {
			best = set
			bestScore = score
		}
	}
	return best
}

func scoreSet(set *model.OrderSet, text string) int {
	score := 0
	for _, tag := range set.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" && strings.Contains(text, tag) {
			score += 2
		}
	}
	for _, word := range strings.Fields(strings.ToLower(set.Name)) {
		// Short words like "of" and "ED" match everything, skip them.
		if len(word) > 2 && strings.Contains(text, word) {
			score++
		}
	}
	return score
}
