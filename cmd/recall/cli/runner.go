package cli

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/recall/internal/config"
	"github.com/felixgeelhaar/recall/internal/conversation"
	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/persona"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/runtime"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/ui"
)

// Runner wires the agent out of its collaborators.
type Runner struct {
	Config   config.Config
	Observer *observe.Observer
	Store    store.Storage
	UI       ui.UI

	Metrics   *observe.Metrics
	Events    *runtime.EventBus
	Guard     *guard.Guard
	Retriever *memory.Retriever
	Agent     *runtime.Agent

	cache *provider.CachedEmbedder
}

func NewRunner(cfg config.Config, obs *observe.Observer, s store.Storage, chat provider.Completer, embedder provider.Embedder, u ui.UI) (*Runner, error) {
	if u == nil {
		u = ui.SilentUI{}
	}

	profile := persona.Default()
	if cfg.PersonaPath != "" {
		p, err := persona.Load(cfg.PersonaPath)
		if err != nil {
			return nil, err
		}
		profile = p
	}
	validation := profile.Validate()
	for _, w := range validation.Warnings {
		obs.Log().Warn().Str("persona", profile.Name).Msg(w)
	}
	if !validation.Valid {
		obs.Log().Error().Str("errors", strings.Join(validation.Errors, ", ")).Msg("Invalid persona")
		return nil, fmt.Errorf("invalid persona %q", profile.Name)
	}

	policy := provider.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.MaxAttempts
	policy.AttemptTimeout = cfg.CollaboratorTimeout
	resilient := provider.NewResilient(chat, embedder, policy)

	r := &Runner{
		Config:   cfg,
		Observer: obs,
		Store:    s,
		UI:       u,
		Metrics:  observe.NewMetrics(cfg.MetricsNamespace),
		Events:   runtime.NewEventBus(),
		Guard:    guard.New(cfg.Guard),
	}
	ui.Watch(r.Events, u)

	var embed memory.Embedder = resilient
	if cfg.EmbeddingCacheSize > 0 {
		cache, err := provider.NewCachedEmbedder(resilient, cfg.EmbeddingCacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = cache
		embed = cache
	}

	r.Retriever = memory.NewRetriever(s, embed, obs,
		memory.WithTimeout(cfg.CollaboratorTimeout),
		memory.WithMetrics(r.Metrics),
		memory.WithLocation(profile.Location()),
	)

	sessions := conversation.NewStore(
		conversation.WithLimit(cfg.SessionLimit),
		conversation.WithBackend(s),
	)

	agent, err := runtime.New(runtime.Config{
		Completer:     resilient,
		Retriever:     r.Retriever,
		Sessions:      sessions,
		Persona:       profile,
		Guard:         r.Guard,
		Observer:      obs,
		Metrics:       r.Metrics,
		Events:        r.Events,
		TurnTimeout:   cfg.TurnTimeout,
		IngestTimeout: cfg.CollaboratorTimeout,
	})
	if err != nil {
		r.Close()
		return nil, err
	}
	r.Agent = agent

	obs.Log().Info().
		Str("provider", chat.Name()).
		Str("persona", profile.Name).
		Str("owner", cfg.Owner).
		Msg("recall runtime initialized")
	return r, nil
}

// Close waits for background writes and releases the cache. The store is
// owned by the caller.
func (r *Runner) Close() {
	if r.Agent != nil {
		r.Agent.Wait()
	}
	if r.cache != nil {
		r.cache.Close()
	}
}
