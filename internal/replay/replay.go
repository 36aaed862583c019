// Package replay rebuilds category state from a round's command log.
// Live application and replay share the same code path: a command that
// does not match the current state (stale id, invalid index) is a
// silent no-op, so reapplying a log can never corrupt a board.
package replay

import (
	"fmt"

	"valsort/internal/board"
	"valsort/internal/domain"
)

// Apply applies one command to a board and returns the resulting board.
// Commands are applied strictly in log order; Move indices are
// positional and order-dependent.
func Apply(b board.Board, cmd domain.Command) board.Board {
	switch cmd.Type {
	case domain.CommandDrop:
		next, _ := b.Drop(cmd.Payload.CardID, cmd.Payload.Category)
		return next
	case domain.CommandMove:
		p := cmd.Payload
		if p.FromCategory == p.ToCategory && p.FromIndex != nil && p.ToIndex != nil {
			next, _ := b.MoveWithin(p.FromCategory, *p.FromIndex, *p.ToIndex)
			return next
		}
		next, _ := b.MoveBetween(p.CardID, p.FromCategory, p.ToCategory)
		return next
	default:
		return b
	}
}

// Replay folds an ordered command log over a starting board. For a
// fixed start and log the result is deterministic.
func Replay(start board.Board, cmds []domain.Command) board.Board {
	b := start
	for _, cmd := range cmds {
		b = Apply(b, cmd)
	}
	return b
}

// RoundPlayback is one round's step-by-step reconstruction for a
// visualization consumer. Steps[i] is the board after Commands[i].
type RoundPlayback struct {
	RoundNumber int
	Initial     board.Board
	Steps       []board.Board
	Final       board.Board
}

// Reconstruct replays each round from its derived initial layout. Every
// round starts with empty categories and the full pool unsorted; the
// post-shuffle pool order is never reproduced (it is snapshotted at
// round creation), so replay only ever happens within a round.
func Reconstruct(rounds []domain.Round) []RoundPlayback {
	out := make([]RoundPlayback, 0, len(rounds))
	for _, r := range rounds {
		start := board.New(InitialPool(r, nil), r.ValidCategories)
		steps := make([]board.Board, 0, len(r.Commands))
		b := start
		for _, cmd := range r.Commands {
			b = Apply(b, cmd)
			steps = append(steps, b)
		}
		out = append(out, RoundPlayback{
			RoundNumber: r.RoundNumber,
			Initial:     start,
			Steps:       steps,
			Final:       b,
		})
	}
	return out
}

// InitialPool derives the cards a round started with: every card
// dropped during the round, any card in the final snapshot the log
// missed, plus the still-unsorted remainder for an in-flight round.
// Pool order does not affect replay results; drops address cards by id.
func InitialPool(r domain.Round, remaining []domain.Value) []domain.Value {
	var pool []domain.Value
	seen := map[string]bool{}
	add := func(v domain.Value) {
		if v.ID == "" || seen[v.ID] {
			return
		}
		seen[v.ID] = true
		pool = append(pool, v)
	}
	for _, cmd := range r.Commands {
		if cmd.Type == domain.CommandDrop {
			add(domain.Value{ID: cmd.Payload.CardID, Title: cmd.Payload.CardTitle})
		}
	}
	for _, cat := range domain.CategoryOrder {
		for _, v := range r.Categories[cat] {
			add(v)
		}
	}
	for _, v := range remaining {
		add(v)
	}
	return pool
}

// Resume rebuilds the in-memory board for an interrupted session from
// the current round's snapshot, without replaying mid-round commands.
func Resume(s domain.Session, r domain.Round) (board.Board, error) {
	if r.SessionID != s.ID {
		return board.Board{}, fmt.Errorf("round %d belongs to session %s, not %s", r.RoundNumber, r.SessionID, s.ID)
	}
	if r.RoundNumber != s.CurrentRound {
		return board.Board{}, fmt.Errorf("session %s is on round %d but got round %d", s.ID, s.CurrentRound, r.RoundNumber)
	}
	b := board.Resume(r.Categories, s.RemainingValues, r.ValidCategories)
	if err := VerifyPartition(b); err != nil {
		return board.Board{}, err
	}
	return b, nil
}

// VerifyPartition checks that no card id appears in two places.
func VerifyPartition(b board.Board) error {
	seen := map[string]bool{}
	for _, id := range b.CardIDs() {
		if seen[id] {
			return fmt.Errorf("card %s appears more than once", id)
		}
		seen[id] = true
	}
	return nil
}
