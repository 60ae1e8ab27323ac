// Package app wires config, client, and engine into a CLI session.
package app

import (
	"context"
	"log"

	"fitline/internal/audit"
	"fitline/internal/cache"
	"fitline/internal/config"
	"fitline/internal/crm"
	"fitline/internal/domain"
	"fitline/internal/engine"
)

// Session is everything a CLI command needs to work the board.
type Session struct {
	Config *config.Config
	Client *crm.Client
	Engine *engine.Engine
	Feed   *cache.Cache[[]domain.PipelineItem]
}

// Overrides are flag/env values that beat the config file.
type Overrides struct {
	BaseURL string
	Token   string
	Actor   string
	Email   string
	Role    string
}

// NewSession resolves config from the workspace, applies overrides, and
// builds the client and engine.
func NewSession(workspace string, ov Overrides, logger *log.Logger) (*Session, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if ov.BaseURL != "" {
		cfg.Server.BaseURL = ov.BaseURL
	}
	if ov.Token != "" {
		cfg.Auth.Token = ov.Token
	}
	if ov.Actor != "" {
		cfg.User.Name = ov.Actor
	}
	if ov.Email != "" {
		cfg.User.Email = ov.Email
	}
	if ov.Role != "" {
		cfg.User.Role = ov.Role
	}

	client := crm.New(cfg.Server.BaseURL)
	client.BearerToken = cfg.Auth.Token
	if cfg.Server.Timeout > 0 {
		client.Timeout = cfg.Server.Timeout.Std()
		client.HTTPClient.Timeout = client.Timeout
	}

	user := domain.User{Name: cfg.User.Name, Email: cfg.User.Email, Role: cfg.User.Role}
	eng := engine.New(client, user)
	eng.Logger = logger
	if cfg.Server.Timeout > 0 {
		eng.FetchTimeout = cfg.Server.Timeout.Std()
	}
	if cfg.Board.AuditLimit > 0 {
		eng.Audit = audit.NewTrail(cfg.Board.AuditLimit)
	}

	return &Session{
		Config: cfg,
		Client: client,
		Engine: eng,
		Feed:   cache.New[[]domain.PipelineItem](cfg.Board.CacheTTL.Std()),
	}, nil
}

// LoadBoard fills the engine from the feed cache when fresh, otherwise
// from the server, refreshing the cache on success.
func (s *Session) LoadBoard(ctx context.Context) error {
	if items, ok := s.Feed.Get(); ok {
		s.Engine.Restore(items)
		return nil
	}
	if err := s.Engine.Load(ctx); err != nil {
		return err
	}
	s.Feed.Put(s.Engine.Items())
	return nil
}

// InvalidateBoard drops the cached feed after a mutation so the next
// read refetches.
func (s *Session) InvalidateBoard() {
	s.Feed.Invalidate()
}
