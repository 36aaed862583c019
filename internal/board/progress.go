package board

import "valsort/internal/domain"

// Progress holds the round-health flags for one board. Callers get the
// individual reasons, not just a CanAdvance boolean, so a UI can say
// why advancing is blocked.
type Progress struct {
	ActiveCount         int  `json:"active_count"`
	TotalActive         int  `json:"total_active"`
	RemainingCount      int  `json:"remaining_count"`
	HasEnoughCards      bool `json:"has_enough_cards"`
	HasMinimumDiscard   bool `json:"has_minimum_discard"`
	IsNearingCompletion bool `json:"is_nearing_completion"`
	CanAdvance          bool `json:"can_advance"`
	ShouldEndGame       bool `json:"should_end_game"`
}

// Evaluate computes the round-health flags for b against the session
// target. Pure; evaluating never mutates the board.
func Evaluate(b Board, target int) Progress {
	active := 0
	for _, cat := range domain.CategoryOrder {
		if cat == domain.CategoryNotImportant {
			continue
		}
		active += len(b.Categories[cat])
	}
	remaining := len(b.Remaining)
	total := active + remaining
	topCount := b.Categories.Count(domain.CategoryVeryImportant)
	discarded := b.Categories.Count(domain.CategoryNotImportant)

	// The discard minimum forces convergence: every round must reject
	// at least one card, unless the pool already shrank to exactly the
	// target and it all sits in Very Important.
	minimumDiscard := (total == target && topCount == target) || discarded >= 1

	return Progress{
		ActiveCount:         active,
		TotalActive:         total,
		RemainingCount:      remaining,
		HasEnoughCards:      total >= target,
		HasMinimumDiscard:   minimumDiscard,
		IsNearingCompletion: len(b.Valid) == 2,
		CanAdvance:          remaining == 0 && minimumDiscard && active >= target,
		ShouldEndGame:       remaining == 0 && topCount == target,
	}
}
