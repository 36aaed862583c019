package config_test

import (
	"strings"
	"testing"

	"valsort/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Rounds.DefaultTarget != 10 {
		t.Fatalf("default target = %d", cfg.Rounds.DefaultTarget)
	}
	if len(cfg.Deck.Catalog) != 30 {
		t.Fatalf("default deck = %d cards", len(cfg.Deck.Catalog))
	}
	if len(cfg.Values()) != len(cfg.Deck.Catalog) {
		t.Fatal("Values dropped cards")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if cfg.Rounds.DefaultTarget != config.Default().Rounds.DefaultTarget {
		t.Fatal("template and default diverge")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "target too high",
			yaml: "rounds:\n  default_target: 11\ndeck:\n  catalog:\n    - {id: a, title: A}\n",
			want: "default_target",
		},
		{
			name: "target missing",
			yaml: "deck:\n  catalog:\n    - {id: a, title: A}\n",
			want: "default_target",
		},
		{
			name: "wrong ratio count",
			yaml: "rounds:\n  default_target: 5\n  schedule_ratios: [4, 3]\ndeck:\n  catalog:\n    - {id: a, title: A}\n",
			want: "exactly 3",
		},
		{
			name: "ratios not descending",
			yaml: "rounds:\n  default_target: 5\n  schedule_ratios: [4, 4, 2]\ndeck:\n  catalog:\n    - {id: a, title: A}\n",
			want: "descending",
		},
		{
			name: "ratio below 2",
			yaml: "rounds:\n  default_target: 5\n  schedule_ratios: [4, 3, 1]\ndeck:\n  catalog:\n    - {id: a, title: A}\n",
			want: ">= 2",
		},
		{
			name: "empty deck",
			yaml: "rounds:\n  default_target: 5\n",
			want: "catalog",
		},
		{
			name: "card without title",
			yaml: "rounds:\n  default_target: 5\ndeck:\n  catalog:\n    - {id: a}\n",
			want: "id and title",
		},
		{
			name: "duplicate card id",
			yaml: "rounds:\n  default_target: 5\ndeck:\n  catalog:\n    - {id: a, title: A}\n    - {id: a, title: B}\n",
			want: "duplicated",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil config for missing file")
	}
}

func TestCustomRatiosChangePolicy(t *testing.T) {
	cfg, err := config.FromYAML([]byte("rounds:\n  default_target: 5\n  schedule_ratios: [5, 4, 3]\ndeck:\n  catalog:\n    - {id: a, title: A}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// 20 cards at target 5 is the 4x band by default but below the
	// custom 5x first ratio.
	if got := len(cfg.Policy()(20, 5)); got != 4 {
		t.Fatalf("custom policy gave %d categories", got)
	}
	if got := len(config.Default().Policy()(20, 5)); got != 5 {
		t.Fatalf("default policy gave %d categories", got)
	}
}
