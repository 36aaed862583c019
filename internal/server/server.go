package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"valsort/internal/domain"
	"valsort/internal/engine"
	"valsort/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"3 cards still unsorted"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the valsort API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Valsort API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerSessions(group, cfg.Engine)
	registerCommands(group, cfg.Engine)
	registerRounds(group, cfg.Engine)
	registerPlayback(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", ve.Error(), map[string]any{
			"progress": ve.Progress,
		})
	}
	var ie *engine.InvariantError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusConflict, "invariant_violation", ie.Error(), nil)
	}
	if errors.Is(err, engine.ErrSessionCompleted) {
		return newAPIError(http.StatusConflict, "session_completed", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "must be") || strings.Contains(lowered, "duplicate") ||
		strings.Contains(lowered, "need") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, req *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type sessionPath struct {
	SessionID string `path:"session_id"`
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Start a sorting session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest `json:"body"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		se, err := e.CreateSession(ctx, engine.CreateSessionOptions{
			Name:    input.Body.Name,
			Target:  input.Body.Target,
			Values:  input.Body.Values,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(se)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SessionResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSessions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SessionResponse `json:"body"`
		}{Body: mapSessions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Session status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		se, err := e.Load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(se)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-session",
		Method:      http.MethodDelete,
		Path:        "/sessions/{session_id}",
		Summary:     "Delete session and its rounds",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSession(ctx, input.SessionID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-completed-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/completed",
		Summary:     "Final values with reasons",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body domain.CompletedSession `json:"body"`
	}, error) {
		cs, err := e.Repo.GetCompletedSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CompletedSession `json:"body"`
		}{Body: cs}, nil
	})
}

func registerCommands(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "drop-card",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/drop",
		Summary:     "Drop a card into a category",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string      `path:"session_id"`
		Body      DropRequest `json:"body"`
	}) (*struct {
		Body ApplyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cat := domain.Category(input.Body.Category)
		if !cat.Known() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown category %s", input.Body.Category), nil)
		}
		se, err := e.Load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := se.Drop(ctx, input.Body.CardID, cat, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplyResponse `json:"body"`
		}{Body: ApplyResponse{Applied: res.Applied, Command: res.Command, Status: statusResponse(se)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-card",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/move",
		Summary:     "Move a card within or between categories",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string      `path:"session_id"`
		Body      MoveRequest `json:"body"`
	}) (*struct {
		Body ApplyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		se, err := e.Load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		var res engine.ApplyResult
		switch {
		case input.Body.Category != "" && input.Body.FromIndex != nil && input.Body.ToIndex != nil:
			res, err = se.MoveWithin(ctx, domain.Category(input.Body.Category), *input.Body.FromIndex, *input.Body.ToIndex, actorID)
		case input.Body.CardID != "" && input.Body.FromCategory != "" && input.Body.ToCategory != "":
			res, err = se.MoveBetween(ctx, input.Body.CardID, domain.Category(input.Body.FromCategory), domain.Category(input.Body.ToCategory), actorID)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "move needs category+indices or card_id+from_category+to_category", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplyResponse `json:"body"`
		}{Body: ApplyResponse{Applied: res.Applied, Command: res.Command, Status: statusResponse(se)}}, nil
	})
}

func registerRounds(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "advance-round",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/advance",
		Summary:     "Advance to the next round",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body AdvanceResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		se, err := e.Load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := se.Advance(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdvanceResponse `json:"body"`
		}{Body: AdvanceResponse{
			EndGame:     res.EndGame,
			Round:       res.RoundNumber,
			FinalValues: res.FinalValues,
			Status:      statusResponse(se),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "early-finish",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/early-finish",
		Summary:     "Force the active pool down to the target count",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body AdvanceResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		se, err := e.Load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := se.EarlyFinish(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdvanceResponse `json:"body"`
		}{Body: AdvanceResponse{
			EndGame:     res.EndGame,
			Round:       res.RoundNumber,
			FinalValues: res.FinalValues,
			Status:      statusResponse(se),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/complete",
		Summary:     "Finish with reasons for the final values",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string          `path:"session_id"`
		Body      CompleteRequest `json:"body"`
	}) (*struct {
		Body domain.CompletedSession `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		se, err := e.Load(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		cs, err := se.CompleteReasoning(ctx, input.Body.Reasons, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CompletedSession `json:"body"`
		}{Body: cs}, nil
	})
}

func registerPlayback(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "session-playback",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/playback",
		Summary:     "Step-by-step replay of every round",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body []PlaybackRoundResponse `json:"body"`
	}, error) {
		playback, err := e.Playback(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		rounds, err := e.Repo.GetRoundsBySession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]PlaybackRoundResponse, 0, len(playback))
		for i, p := range playback {
			resp := PlaybackRoundResponse{
				Round:   p.RoundNumber,
				Initial: boardResponse(p.Initial),
				Final:   boardResponse(p.Final),
			}
			for j, step := range p.Steps {
				resp.Steps = append(resp.Steps, PlaybackStepResponse{
					Command: rounds[i].Commands[j],
					Board:   boardResponse(step),
				})
			}
			out = append(out, resp)
		}
		return &struct {
			Body []PlaybackRoundResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log",
	}, func(ctx context.Context, input *struct {
		SessionID string `query:"session_id"`
		Limit     int    `query:"limit"`
		Cursor    int64  `query:"cursor"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		items, err := e.Repo.ListEvents(ctx, input.SessionID, limit, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateKeyRequest `json:"body"`
	}) (*struct {
		Body CreateKeyResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		secret := uuid.New().String()
		key := domain.APIKey{
			ID:      uuid.New().String(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(secret),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateKeyResponse `json:"body"`
		}{Body: CreateKeyResponse{ID: key.ID, ActorID: key.ActorID, Key: secret}}, nil
	})
}
