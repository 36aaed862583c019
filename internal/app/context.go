package app

import (
	"context"
	"errors"
	"fmt"

	"valsort/internal/config"
	"valsort/internal/domain"
	"valsort/internal/repo"
)

// ResolveSession picks the session a command operates on: an explicit
// override first, otherwise the only open session in the workspace.
func ResolveSession(ctx context.Context, override string, r repo.Repo) (domain.Session, error) {
	if override != "" {
		s, err := r.GetSession(ctx, override)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Session{}, fmt.Errorf("session %s not found", override)
		}
		return s, err
	}
	s, err := r.SingleSession(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Session{}, fmt.Errorf("no open session; start one with 'vs session new'")
		}
		return domain.Session{}, err
	}
	return s, nil
}

// LoadConfig returns the workspace config, falling back to the
// built-in defaults when no valsort.yml exists.
func LoadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}
