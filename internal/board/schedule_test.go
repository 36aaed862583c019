package board_test

import (
	"testing"

	"valsort/internal/board"
	"valsort/internal/domain"
)

func TestDefaultPolicyRatios(t *testing.T) {
	cases := []struct {
		active, target, want int
	}{
		{40, 10, 5},
		{39, 10, 4},
		{30, 10, 4},
		{29, 10, 3},
		{20, 10, 3},
		{19, 10, 2},
		{2, 10, 2},
		{8, 2, 5},
		{5, 2, 3},
	}
	for _, tc := range cases {
		got := board.DefaultPolicy(tc.active, tc.target)
		if len(got) != tc.want {
			t.Errorf("policy(%d, %d) = %d categories, want %d", tc.active, tc.target, len(got), tc.want)
		}
	}
}

func TestPolicyAlwaysIncludesEndpoints(t *testing.T) {
	for _, active := range []int{2, 15, 25, 35, 100} {
		got := board.DefaultPolicy(active, 10)
		if got[0] != domain.CategoryVeryImportant {
			t.Fatalf("policy(%d, 10) missing Very Important", active)
		}
		if got[len(got)-1] != domain.CategoryNotImportant {
			t.Fatalf("policy(%d, 10) missing Not Important", active)
		}
	}
}

func TestCategoriesForCount(t *testing.T) {
	got := board.CategoriesForCount(3)
	want := []domain.Category{domain.CategoryVeryImportant, domain.CategoryQuiteImportant, domain.CategoryNotImportant}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if len(board.CategoriesForCount(0)) != 2 {
		t.Fatal("count below 2 must clamp to 2")
	}
	if len(board.CategoriesForCount(9)) != 5 {
		t.Fatal("count above 5 must clamp to 5")
	}
}

func TestShrinkNeverGrows(t *testing.T) {
	prev := board.CategoriesForCount(3)
	if got := board.Shrink(prev, board.CategoriesForCount(5)); len(got) != 3 {
		t.Fatalf("valid set regrew: %v", got)
	}
	if got := board.Shrink(prev, board.CategoriesForCount(2)); len(got) != 2 {
		t.Fatalf("shrinking further must pass through: %v", got)
	}
	if got := board.Shrink(nil, board.CategoriesForCount(5)); len(got) != 5 {
		t.Fatalf("no previous set means no clamp: %v", got)
	}
}
