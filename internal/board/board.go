package board

import (
	"valsort/internal/domain"
)

// Board is the in-memory category state for one round: the five
// category lists, the unsorted remaining pool and the set of categories
// selectable this round. All operations are pure; they return the
// updated board plus the command that caused the update, and never
// persist anything themselves.
type Board struct {
	Categories domain.Categories
	Remaining  []domain.Value
	Valid      []domain.Category
}

// New builds a fresh board with the full pool unsorted.
func New(pool []domain.Value, valid []domain.Category) Board {
	remaining := make([]domain.Value, len(pool))
	copy(remaining, pool)
	return Board{
		Categories: domain.NewCategories(),
		Remaining:  remaining,
		Valid:      validSet(valid),
	}
}

// Resume builds a board from a persisted snapshot.
func Resume(categories domain.Categories, remaining []domain.Value, valid []domain.Category) Board {
	layout := domain.NewCategories()
	for cat, list := range categories.Clone() {
		layout[cat] = list
	}
	rem := make([]domain.Value, len(remaining))
	copy(rem, remaining)
	return Board{Categories: layout, Remaining: rem, Valid: validSet(valid)}
}

func validSet(valid []domain.Category) []domain.Category {
	if len(valid) == 0 {
		return append([]domain.Category{}, domain.CategoryOrder...)
	}
	return append([]domain.Category{}, valid...)
}

// Clone deep-copies the board.
func (b Board) Clone() Board {
	return Board{
		Categories: b.Categories.Clone(),
		Remaining:  append([]domain.Value{}, b.Remaining...),
		Valid:      append([]domain.Category{}, b.Valid...),
	}
}

// CategoryValid reports whether cat is selectable this round.
func (b Board) CategoryValid(cat domain.Category) bool {
	for _, c := range b.Valid {
		if c == cat {
			return true
		}
	}
	return false
}

func (b Board) remainingIndex(valueID string) int {
	for i, v := range b.Remaining {
		if v.ID == valueID {
			return i
		}
	}
	return -1
}

func (b Board) categoryIndex(cat domain.Category, valueID string) int {
	for i, v := range b.Categories[cat] {
		if v.ID == valueID {
			return i
		}
	}
	return -1
}

// Drop moves a card from the remaining pool to the end of target's
// list. No-op (unchanged board, nil command) if the card is not in the
// pool or the category is not selectable this round.
func (b Board) Drop(valueID string, target domain.Category) (Board, *domain.Command) {
	if !b.CategoryValid(target) {
		return b, nil
	}
	i := b.remainingIndex(valueID)
	if i < 0 {
		return b, nil
	}
	next := b.Clone()
	v := next.Remaining[i]
	next.Remaining = append(next.Remaining[:i], next.Remaining[i+1:]...)
	next.Categories[target] = append(next.Categories[target], v)
	cmd := domain.NewDrop(v, target)
	return next, &cmd
}

// MoveWithin reorders a card inside one category: remove at fromIndex,
// reinsert at toIndex. No-op on out-of-range or equal indices.
func (b Board) MoveWithin(cat domain.Category, fromIndex, toIndex int) (Board, *domain.Command) {
	list := b.Categories[cat]
	if fromIndex < 0 || fromIndex >= len(list) || toIndex < 0 || toIndex >= len(list) || fromIndex == toIndex {
		return b, nil
	}
	next := b.Clone()
	moved := spliceMove(next.Categories[cat], fromIndex, toIndex)
	v := moved[toIndex]
	next.Categories[cat] = moved
	from, to := fromIndex, toIndex
	cmd := domain.NewMove(v, cat, cat, &from, &to)
	return next, &cmd
}

func spliceMove(list []domain.Value, from, to int) []domain.Value {
	v := list[from]
	list = append(list[:from], list[from+1:]...)
	list = append(list, domain.Value{})
	copy(list[to+1:], list[to:])
	list[to] = v
	return list
}

// MoveBetween moves a card from one category to the end of another.
// No-op if the card is not in the source list or either category is
// not selectable this round.
func (b Board) MoveBetween(valueID string, from, to domain.Category) (Board, *domain.Command) {
	if from == to || !b.CategoryValid(from) || !b.CategoryValid(to) {
		return b, nil
	}
	i := b.categoryIndex(from, valueID)
	if i < 0 {
		return b, nil
	}
	next := b.Clone()
	v := next.Categories[from][i]
	next.Categories[from] = append(next.Categories[from][:i], next.Categories[from][i+1:]...)
	next.Categories[to] = append(next.Categories[to], v)
	cmd := domain.NewMove(v, from, to, nil, nil)
	return next, &cmd
}

// ActiveValues returns every card not in Not Important, walking
// categories in priority order so the result is deterministic.
func (b Board) ActiveValues() []domain.Value {
	var out []domain.Value
	for _, cat := range domain.CategoryOrder {
		if cat == domain.CategoryNotImportant {
			continue
		}
		out = append(out, b.Categories[cat]...)
	}
	return out
}

// CardIDs returns every card id on the board, category lists first then
// the remaining pool. Used to check the partition invariant.
func (b Board) CardIDs() []string {
	var out []string
	for _, cat := range domain.CategoryOrder {
		for _, v := range b.Categories[cat] {
			out = append(out, v.ID)
		}
	}
	for _, v := range b.Remaining {
		out = append(out, v.ID)
	}
	return out
}
