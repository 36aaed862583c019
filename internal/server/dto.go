package server

import (
	"valsort/internal/board"
	"valsort/internal/domain"
	"valsort/internal/engine"
)

// Request payloads

type CreateSessionRequest struct {
	Name   string         `json:"name,omitempty"`
	Target int            `json:"target,omitempty" minimum:"1" maximum:"10"`
	Values []domain.Value `json:"values,omitempty"`
}

type DropRequest struct {
	CardID   string `json:"card_id"`
	Category string `json:"category"`
}

type MoveRequest struct {
	CardID       string `json:"card_id,omitempty"`
	Category     string `json:"category,omitempty"`
	FromCategory string `json:"from_category,omitempty"`
	ToCategory   string `json:"to_category,omitempty"`
	FromIndex    *int   `json:"from_index,omitempty"`
	ToIndex      *int   `json:"to_index,omitempty"`
}

type CompleteRequest struct {
	Reasons map[string]string `json:"reasons,omitempty"`
}

type CreateKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type SessionResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Target       int    `json:"target"`
	CurrentRound int    `json:"current_round"`
	Completed    bool   `json:"completed"`
	CardCount    int    `json:"card_count"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

func sessionResponse(s domain.Session) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		Name:         s.Name,
		Target:       s.Target,
		CurrentRound: s.CurrentRound,
		Completed:    s.Completed,
		CardCount:    len(s.InitialValues),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func mapSessions(items []domain.Session) []SessionResponse {
	out := make([]SessionResponse, 0, len(items))
	for _, s := range items {
		out = append(out, sessionResponse(s))
	}
	return out
}

type BoardResponse struct {
	Categories      map[string][]domain.Value `json:"categories"`
	Remaining       []domain.Value            `json:"remaining"`
	ValidCategories []string                  `json:"valid_categories"`
}

func boardResponse(b board.Board) BoardResponse {
	cats := make(map[string][]domain.Value, len(b.Categories))
	for cat, list := range b.Categories {
		cats[string(cat)] = list
	}
	valid := make([]string, 0, len(b.Valid))
	for _, cat := range b.Valid {
		valid = append(valid, string(cat))
	}
	return BoardResponse{
		Categories:      cats,
		Remaining:       b.Remaining,
		ValidCategories: valid,
	}
}

type StatusResponse struct {
	SessionID string         `json:"session_id"`
	Round     int            `json:"round"`
	Stage     string         `json:"stage"`
	Progress  board.Progress `json:"progress"`
	Board     BoardResponse  `json:"board"`
}

func statusResponse(se *engine.SessionEngine) StatusResponse {
	stage, prog := se.Status()
	return StatusResponse{
		SessionID: se.Session().ID,
		Round:     se.Session().CurrentRound,
		Stage:     string(stage),
		Progress:  prog,
		Board:     boardResponse(se.Board()),
	}
}

type ApplyResponse struct {
	Applied bool            `json:"applied"`
	Command *domain.Command `json:"command,omitempty"`
	Status  StatusResponse  `json:"status"`
}

type AdvanceResponse struct {
	EndGame     bool           `json:"end_game"`
	Round       int            `json:"round"`
	FinalValues []domain.Value `json:"final_values,omitempty"`
	Status      StatusResponse `json:"status"`
}

type PlaybackStepResponse struct {
	Command domain.Command `json:"command"`
	Board   BoardResponse  `json:"board"`
}

type PlaybackRoundResponse struct {
	Round   int                    `json:"round"`
	Initial BoardResponse          `json:"initial"`
	Steps   []PlaybackStepResponse `json:"steps"`
	Final   BoardResponse          `json:"final"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EventResponse(e))
	}
	return out
}

type CreateKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Key     string `json:"key"`
}
