package domain

import "time"

// Category is one of the five fixed priority buckets a card can land in.
type Category string

const (
	CategoryVeryImportant  Category = "very-important"
	CategoryQuiteImportant Category = "quite-important"
	CategoryImportant      Category = "important"
	CategorySomeImportance Category = "some-importance"
	CategoryNotImportant   Category = "not-important"
)

// CategoryOrder lists all categories from highest to lowest priority.
// The order is load-bearing: tie-breaking and the early-finish walk
// depend on it.
var CategoryOrder = []Category{
	CategoryVeryImportant,
	CategoryQuiteImportant,
	CategoryImportant,
	CategorySomeImportance,
	CategoryNotImportant,
}

var categoryLabels = map[Category]string{
	CategoryVeryImportant:  "Very Important",
	CategoryQuiteImportant: "Quite Important",
	CategoryImportant:      "Important",
	CategorySomeImportance: "Of Some Importance",
	CategoryNotImportant:   "Not Important",
}

// Label returns the display name for a category.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// Known reports whether c is one of the five categories.
func (c Category) Known() bool {
	_, ok := categoryLabels[c]
	return ok
}

// Rank returns the priority rank of c, 0 being highest. Unknown
// categories rank below everything.
func (c Category) Rank() int {
	for i, cat := range CategoryOrder {
		if cat == c {
			return i
		}
	}
	return len(CategoryOrder)
}

// Value is a single sortable card. Immutable once created; the pool for
// a session is fixed at session start.
type Value struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ValueWithReason is a final value plus the user's free-text reason for
// keeping it.
type ValueWithReason struct {
	Value
	Reason string `json:"reason,omitempty"`
}

// Categories maps every category to its ordered card list. All five
// keys are always present with explicit empty slices; list order is the
// user's within-category ranking.
type Categories map[Category][]Value

// NewCategories returns an empty layout with all five keys present.
func NewCategories() Categories {
	c := make(Categories, len(CategoryOrder))
	for _, cat := range CategoryOrder {
		c[cat] = []Value{}
	}
	return c
}

// Clone deep-copies the layout.
func (c Categories) Clone() Categories {
	out := make(Categories, len(c))
	for cat, list := range c {
		cp := make([]Value, len(list))
		copy(cp, list)
		out[cat] = cp
	}
	return out
}

// Count returns the number of cards in one category.
func (c Categories) Count(cat Category) int {
	return len(c[cat])
}

// CommandType tags the two kinds of mutation commands.
type CommandType string

const (
	CommandDrop CommandType = "DROP"
	CommandMove CommandType = "MOVE"
)

// CommandPayload carries the typed payload of a command. Drop uses
// Category; Move uses FromCategory/ToCategory and, for within-category
// reorders, both indices.
type CommandPayload struct {
	CardID       string   `json:"card_id"`
	CardTitle    string   `json:"card_title"`
	Category     Category `json:"category,omitempty"`
	FromCategory Category `json:"from_category,omitempty"`
	ToCategory   Category `json:"to_category,omitempty"`
	FromIndex    *int     `json:"from_index,omitempty"`
	ToIndex      *int     `json:"to_index,omitempty"`
}

// Command is one immutable entry in a round's append-only log. ID and
// TS are stamped by the engine when the command is accepted.
type Command struct {
	ID      string         `json:"id,omitempty"`
	Type    CommandType    `json:"type"`
	Payload CommandPayload `json:"payload"`
	TS      string         `json:"ts,omitempty"`
}

// NewDrop records moving a card from the remaining pool into a
// category. Construction cannot fail and mutates nothing.
func NewDrop(v Value, target Category) Command {
	return Command{
		Type: CommandDrop,
		Payload: CommandPayload{
			CardID:    v.ID,
			CardTitle: v.Title,
			Category:  target,
		},
	}
}

// NewMove records moving a card within a category (both indices set)
// or across categories (indices nil).
func NewMove(v Value, from, to Category, fromIndex, toIndex *int) Command {
	return Command{
		Type: CommandMove,
		Payload: CommandPayload{
			CardID:       v.ID,
			CardTitle:    v.Title,
			FromCategory: from,
			ToCategory:   to,
			FromIndex:    fromIndex,
			ToIndex:      toIndex,
		},
	}
}

// Round is one sorting pass: an append-only command log plus the latest
// category snapshot for fast resume without full replay.
type Round struct {
	SessionID       string     `json:"session_id"`
	RoundNumber     int        `json:"round_number"`
	Commands        []Command  `json:"commands"`
	Categories      Categories `json:"categories"`
	ValidCategories []Category `json:"valid_categories"`
	CreatedAt       string     `json:"created_at" format:"date-time"`
}

// Session is one user's sorting exercise. RemainingValues are the cards
// not yet placed in the current round.
type Session struct {
	ID              string  `json:"id"`
	Name            string  `json:"name,omitempty"`
	Target          int     `json:"target"`
	CurrentRound    int     `json:"current_round"`
	Completed       bool    `json:"completed"`
	InitialValues   []Value `json:"initial_values"`
	RemainingValues []Value `json:"remaining_values"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// CompletedSession is written exactly once, when the user finishes
// providing reasons for the final values.
type CompletedSession struct {
	SessionID   string            `json:"session_id"`
	FinalValues []ValueWithReason `json:"final_values"`
	CreatedAt   string            `json:"created_at" format:"date-time"`
}

// Event is one audit log row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates serve-mode callers.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Timestamp formats t the way every persisted timestamp is stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
