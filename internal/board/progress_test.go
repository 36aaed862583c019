package board_test

import (
	"testing"

	"valsort/internal/board"
	"valsort/internal/domain"
)

func TestEvaluateBlocksWhileUnsorted(t *testing.T) {
	b := board.New(pool("a", "b", "c"), nil)
	b, _ = b.Drop("a", domain.CategoryVeryImportant)

	p := board.Evaluate(b, 2)
	if p.RemainingCount != 2 || p.ActiveCount != 1 || p.TotalActive != 3 {
		t.Fatalf("counts wrong: %+v", p)
	}
	if p.CanAdvance {
		t.Fatal("cannot advance with cards unsorted")
	}
}

func TestEvaluateRequiresDiscard(t *testing.T) {
	b := board.New(pool("a", "b", "c"), nil)
	b, _ = b.Drop("a", domain.CategoryVeryImportant)
	b, _ = b.Drop("b", domain.CategoryImportant)
	b, _ = b.Drop("c", domain.CategoryImportant)

	p := board.Evaluate(b, 2)
	if p.HasMinimumDiscard {
		t.Fatal("no card was discarded")
	}
	if p.CanAdvance {
		t.Fatal("cannot advance without a discard")
	}

	b, _ = b.MoveBetween("c", domain.CategoryImportant, domain.CategoryNotImportant)
	p = board.Evaluate(b, 2)
	if !p.HasMinimumDiscard || !p.CanAdvance {
		t.Fatalf("expected advance after discard: %+v", p)
	}
}

func TestEvaluateDiscardWaivedAtExactTarget(t *testing.T) {
	// Pool already shrank to exactly the target and all of it sits in
	// Very Important: the discard minimum no longer applies.
	b := board.New(pool("a", "b"), nil)
	b, _ = b.Drop("a", domain.CategoryVeryImportant)
	b, _ = b.Drop("b", domain.CategoryVeryImportant)

	p := board.Evaluate(b, 2)
	if !p.HasMinimumDiscard {
		t.Fatal("discard minimum should be waived")
	}
	if !p.CanAdvance || !p.ShouldEndGame {
		t.Fatalf("expected end game: %+v", p)
	}
}

func TestEvaluateEndGameNeedsExactTopCount(t *testing.T) {
	b := board.New(pool("a", "b", "c"), nil)
	b, _ = b.Drop("a", domain.CategoryVeryImportant)
	b, _ = b.Drop("b", domain.CategoryVeryImportant)
	b, _ = b.Drop("c", domain.CategoryNotImportant)

	if p := board.Evaluate(b, 2); !p.ShouldEndGame {
		t.Fatalf("two in top with target 2 should end: %+v", p)
	}
	if p := board.Evaluate(b, 3); p.ShouldEndGame {
		t.Fatalf("top count below target must not end: %+v", p)
	}
}

func TestEvaluateNotEnoughCards(t *testing.T) {
	b := board.New(pool("a", "b"), nil)
	b, _ = b.Drop("a", domain.CategoryVeryImportant)
	b, _ = b.Drop("b", domain.CategoryNotImportant)

	p := board.Evaluate(b, 2)
	if p.HasEnoughCards {
		t.Fatal("one active card cannot reach target 2")
	}
	if p.CanAdvance {
		t.Fatal("cannot advance below the target")
	}
}

func TestEvaluateNearingCompletion(t *testing.T) {
	wide := board.New(pool("a"), board.CategoriesForCount(4))
	if board.Evaluate(wide, 1).IsNearingCompletion {
		t.Fatal("four categories is not nearing completion")
	}
	narrow := board.New(pool("a"), board.CategoriesForCount(2))
	if !board.Evaluate(narrow, 1).IsNearingCompletion {
		t.Fatal("two categories is nearing completion")
	}
}
