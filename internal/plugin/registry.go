package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/backup"
	"github.com/stackhealer/backend-go/internal/domain"
)

// Registry maps tech-stack tags to plugins. It is built once at startup and
// handed to the components that need plugins.
type Registry struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	plugins map[string]StackPlugin
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:  logger,
		plugins: make(map[string]StackPlugin),
	}
}

// Register loads p and makes it resolvable by its tag
func (r *Registry) Register(p StackPlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag := p.Tag()
	if tag == "" {
		return fmt.Errorf("plugin %q has no tech stack tag", p.Name())
	}
	if _, exists := r.plugins[tag]; exists {
		return fmt.Errorf("plugin for %q already registered", tag)
	}
	if err := p.OnLoad(r.logger.With().Str("plugin", tag).Logger()); err != nil {
		return fmt.Errorf("load plugin %s: %w", tag, err)
	}
	r.plugins[tag] = p
	r.logger.Info().Str("plugin", tag).Int("checks", len(p.Checks())).
		Int("actions", len(p.HealingActions())).Msg("plugin registered")
	return nil
}

// Unregister unloads the plugin for tag, if any
func (r *Registry) Unregister(tag string) {
	r.mu.Lock()
	p, ok := r.plugins[tag]
	delete(r.plugins, tag)
	r.mu.Unlock()

	if ok {
		p.OnUnload()
		r.logger.Info().Str("plugin", tag).Msg("plugin unregistered")
	}
}

// Get returns the plugin for tag or domain.ErrPluginNotFound
func (r *Registry) Get(tag string) (StackPlugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPluginNotFound, tag)
	}
	return p, nil
}

// Tags returns the registered tags in sorted order
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.plugins))
	for t := range r.plugins {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// BackupStrategyFor implements backup.StrategyResolver
func (r *Registry) BackupStrategyFor(techStack string) (backup.Strategy, error) {
	p, err := r.Get(techStack)
	if err != nil {
		return nil, err
	}
	return p.BackupStrategy(), nil
}

// ActionsFor returns the healing actions offered for techStack
func (r *Registry) ActionsFor(techStack string) ([]domain.HealingAction, error) {
	p, err := r.Get(techStack)
	if err != nil {
		return nil, err
	}
	return p.HealingActions(), nil
}

// DetectAll asks every plugin whether path holds its stack and returns the
// positive answers, most confident first. A plugin whose detection fails is
// logged and left out.
func (r *Registry) DetectAll(ctx context.Context, server *domain.Server, path string) []DetectResult {
	r.mu.RLock()
	plugins := make([]StackPlugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		plugins = append(plugins, p)
	}
	r.mu.RUnlock()

	var out []DetectResult
	for _, p := range plugins {
		if ctx.Err() != nil {
			break
		}
		res, err := p.Detect(ctx, server, path)
		if err != nil {
			r.logger.Warn().Err(err).Str("plugin", p.Tag()).Str("server_id", server.ID).Msg("detection failed")
			continue
		}
		if res.Confidence <= 0 {
			continue
		}
		res.TechStack = p.Tag()
		out = append(out, res)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].TechStack < out[j].TechStack
	})
	return out
}

// Close unloads every plugin
func (r *Registry) Close() {
	for _, tag := range r.Tags() {
		r.Unregister(tag)
	}
}
