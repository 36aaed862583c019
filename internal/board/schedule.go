package board

import "valsort/internal/domain"

// SchedulePolicy decides which categories are selectable for a round
// given the surviving active-card count and the session target. A
// policy must be deterministic and non-increasing in activeCount so the
// game converges; the engine additionally clamps the result so the set
// never grows from one round to the next.
type SchedulePolicy func(activeCount, target int) []domain.Category

// defaultRatios maps pool-to-target ratios to category counts: five
// categories while the pool is at least 4x the target, then 4 at 3x,
// then 3 at 2x, then only Very Important / Not Important.
var defaultRatios = []int{4, 3, 2}

// DefaultPolicy is RatioPolicy with the default ratio table.
func DefaultPolicy(activeCount, target int) []domain.Category {
	return RatioPolicy(defaultRatios)(activeCount, target)
}

// RatioPolicy builds a policy from a descending ratio table. With
// table [r0, r1, r2]: activeCount >= r0*target keeps 5 categories,
// >= r1*target keeps 4, >= r2*target keeps 3, anything lower keeps 2.
// The valid set is always the top (k-1) priority categories plus Not
// Important, so a rejection lane exists every round.
func RatioPolicy(ratios []int) SchedulePolicy {
	table := ratios
	if len(table) != 3 {
		table = defaultRatios
	}
	return func(activeCount, target int) []domain.Category {
		if target < 1 {
			target = 1
		}
		k := 2
		switch {
		case activeCount >= table[0]*target:
			k = 5
		case activeCount >= table[1]*target:
			k = 4
		case activeCount >= table[2]*target:
			k = 3
		}
		return CategoriesForCount(k)
	}
}

// CategoriesForCount returns the valid set for k selectable categories:
// the top k-1 priority categories plus Not Important.
func CategoriesForCount(k int) []domain.Category {
	if k < 2 {
		k = 2
	}
	if k > len(domain.CategoryOrder) {
		k = len(domain.CategoryOrder)
	}
	out := make([]domain.Category, 0, k)
	out = append(out, domain.CategoryOrder[:k-1]...)
	return append(out, domain.CategoryNotImportant)
}

// Shrink clamps next so the valid set never re-grows across rounds.
func Shrink(prev, next []domain.Category) []domain.Category {
	if len(prev) > 0 && len(next) > len(prev) {
		return append([]domain.Category{}, prev...)
	}
	return next
}
