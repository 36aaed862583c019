package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"valsort/internal/board"
	"valsort/internal/domain"
)

// Config models valsort.yml: the deck of value cards a session starts
// from and the round tunables.
type Config struct {
	Deck struct {
		Catalog []Card `yaml:"catalog"`
	} `yaml:"deck"`
	Rounds struct {
		// DefaultTarget is the core-value count a session converges to
		// when none is given. Must be 1..10.
		DefaultTarget int `yaml:"default_target"`
		// ScheduleRatios is the descending ratio table deciding how
		// many categories stay selectable as the pool shrinks.
		ScheduleRatios []int `yaml:"schedule_ratios"`
	} `yaml:"rounds"`
}

// Card is one deck entry.
type Card struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
}

// MaxTarget bounds the target core-value count for any session.
const MaxTarget = 10

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Rounds.DefaultTarget < 1 || c.Rounds.DefaultTarget > MaxTarget {
		return fmt.Errorf("config.rounds.default_target must be 1..%d", MaxTarget)
	}
	if n := len(c.Rounds.ScheduleRatios); n != 0 && n != 3 {
		return fmt.Errorf("config.rounds.schedule_ratios must list exactly 3 ratios")
	}
	prev := 0
	for i, r := range c.Rounds.ScheduleRatios {
		if r < 2 {
			return fmt.Errorf("config.rounds.schedule_ratios[%d] must be >= 2", i)
		}
		if i > 0 && r >= prev {
			return fmt.Errorf("config.rounds.schedule_ratios must be strictly descending")
		}
		prev = r
	}
	if len(c.Deck.Catalog) == 0 {
		return fmt.Errorf("config.deck.catalog is required")
	}
	seen := map[string]bool{}
	for _, card := range c.Deck.Catalog {
		if card.ID == "" || card.Title == "" {
			return fmt.Errorf("deck card needs id and title")
		}
		if seen[card.ID] {
			return fmt.Errorf("deck card id %s duplicated", card.ID)
		}
		seen[card.ID] = true
	}
	return nil
}

// Values converts the deck catalog to domain values, preserving order.
func (c *Config) Values() []domain.Value {
	out := make([]domain.Value, 0, len(c.Deck.Catalog))
	for _, card := range c.Deck.Catalog {
		out = append(out, domain.Value{ID: card.ID, Title: card.Title, Description: card.Description})
	}
	return out
}

// Policy returns the category scheduling policy configured here.
func (c *Config) Policy() board.SchedulePolicy {
	if len(c.Rounds.ScheduleRatios) == 3 {
		return board.RatioPolicy(c.Rounds.ScheduleRatios)
	}
	return board.DefaultPolicy
}

// ToYAML renders the config back to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// DeckFromFile reads a standalone YAML card list for custom decks:
// either a bare list of cards or a full config's deck section.
func DeckFromFile(path string) ([]domain.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cards []Card
	if err := yaml.Unmarshal(data, &cards); err != nil {
		var wrapped struct {
			Deck struct {
				Catalog []Card `yaml:"catalog"`
			} `yaml:"deck"`
		}
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("invalid deck yaml: %w", err)
		}
		cards = wrapped.Deck.Catalog
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("deck file %s lists no cards", path)
	}
	out := make([]domain.Value, 0, len(cards))
	for _, card := range cards {
		out = append(out, domain.Value{ID: card.ID, Title: card.Title, Description: card.Description})
	}
	return out, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "valsort.yml")
}

// Default returns the built-in config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the workspace has no config file.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `rounds:
  default_target: 10
  schedule_ratios: [4, 3, 2]

deck:
  catalog:
    - id: achievement
      title: Achievement
      description: "A sense of accomplishment from sustained effort"
    - id: adventure
      title: Adventure
      description: "New and challenging experiences"
    - id: authenticity
      title: Authenticity
      description: "Acting in line with who you really are"
    - id: autonomy
      title: Autonomy
      description: "Independence in how you live and work"
    - id: balance
      title: Balance
      description: "Giving each part of life its due"
    - id: community
      title: Community
      description: "Belonging to a group that matters to you"
    - id: compassion
      title: Compassion
      description: "Caring for the wellbeing of others"
    - id: courage
      title: Courage
      description: "Doing the right thing despite fear"
    - id: creativity
      title: Creativity
      description: "Making new things or seeing new ways"
    - id: curiosity
      title: Curiosity
      description: "A drive to learn and explore"
    - id: faith
      title: Faith
      description: "Trust in something larger than yourself"
    - id: family
      title: Family
      description: "Closeness with the people you call home"
    - id: fairness
      title: Fairness
      description: "Treating people justly and impartially"
    - id: friendship
      title: Friendship
      description: "Deep, lasting personal bonds"
    - id: generosity
      title: Generosity
      description: "Giving time, help, or resources freely"
    - id: growth
      title: Growth
      description: "Becoming more capable over time"
    - id: health
      title: Health
      description: "Physical and mental wellbeing"
    - id: honesty
      title: Honesty
      description: "Telling the truth, even when costly"
    - id: humor
      title: Humor
      description: "Finding and sharing lightness"
    - id: influence
      title: Influence
      description: "Shaping outcomes beyond yourself"
    - id: knowledge
      title: Knowledge
      description: "Understanding how things work"
    - id: loyalty
      title: Loyalty
      description: "Standing by people and commitments"
    - id: nature
      title: Nature
      description: "Time in and care for the natural world"
    - id: recognition
      title: Recognition
      description: "Being seen and valued for what you do"
    - id: security
      title: Security
      description: "Stability and freedom from want"
    - id: service
      title: Service
      description: "Work that benefits others"
    - id: spirituality
      title: Spirituality
      description: "Connection to meaning beyond the material"
    - id: tradition
      title: Tradition
      description: "Honoring where you come from"
    - id: wealth
      title: Wealth
      description: "Material prosperity"
    - id: wisdom
      title: Wisdom
      description: "Sound judgment earned through experience"
`
