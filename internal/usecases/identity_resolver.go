package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/interfaces"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// IdentityResolver maps legacy channel tokens (slugs, display names, aliases)
// to canonical channel ids.
type IdentityResolver struct {
	store   interfaces.ChannelStore
	curated map[string]string // slug -> canonical display name
	cache   *Cache[string, string]
	logger  *slog.Logger

	group  singleflight.Group
	mu     sync.Mutex
	loaded bool
	loads  int
	gen    uint64 // bumped by Invalidate; loads started under an older gen are dropped
}

const (
	directoryKey         = "directory"
	directoryLoadTimeout = 10 * time.Second
	directoryLoadRetries = 3
)

// NewIdentityResolver creates a resolver. curated may be nil; cache may be nil
// for a fresh one.
func NewIdentityResolver(store interfaces.ChannelStore, curated map[string]string, cache *Cache[string, string], logger *slog.Logger) *IdentityResolver {
	if cache == nil {
		cache = NewCache[string, string](0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityResolver{
		store:   store,
		curated: curated,
		cache:   cache,
		logger:  logger.With(slog.String("component", "identity_resolver")),
	}
}

// IsCanonicalID reports whether token already has the canonical id shape.
func IsCanonicalID(token string) bool {
	if len(token) != 36 {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}

// Resolve returns the canonical id for token, or ErrChannelNotFound.
func (r *IdentityResolver) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", entities.ErrChannelNotFound
	}
	if IsCanonicalID(token) {
		return token, nil
	}
	if id, ok := r.lookup(token); ok {
		return id, nil
	}
	if err := r.load(ctx); err != nil {
		return "", err
	}
	if id, ok := r.lookup(token); ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", entities.ErrChannelNotFound, token)
}

// Invalidate drops the directory cache; the next miss reloads it. A load
// already in flight finishes but its snapshot is discarded.
func (r *IdentityResolver) Invalidate() {
	r.mu.Lock()
	r.gen++
	r.loaded = false
	r.cache.Invalidate()
	r.mu.Unlock()
	r.group.Forget(directoryKey)
}

// Loads returns how many times the channel directory was fetched.
func (r *IdentityResolver) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// lookup consults the curated table first, then direct tokens.
func (r *IdentityResolver) lookup(token string) (string, bool) {
	if name, ok := r.curated[token]; ok {
		if id, found := r.cache.Get(name); found {
			return id, true
		}
	}
	return r.cache.Get(token)
}

func (r *IdentityResolver) isLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

func (r *IdentityResolver) load(ctx context.Context) error {
	for attempt := 0; attempt < directoryLoadRetries; attempt++ {
		if r.isLoaded() {
			return nil
		}
		if _, err, _ := r.group.Do(directoryKey, func() (interface{}, error) {
			return nil, r.fetch(ctx)
		}); err != nil {
			return err
		}
	}
	return nil
}

// fetch runs detached from the caller so one cancelled request does not fail
// every waiter sharing the flight.
func (r *IdentityResolver) fetch(ctx context.Context) error {
	r.mu.Lock()
	if r.loaded {
		r.mu.Unlock()
		return nil
	}
	gen := r.gen
	r.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), directoryLoadTimeout)
	defer cancel()
	channels, err := r.store.ListChannels(loadCtx)
	if err != nil {
		return fmt.Errorf("failed to load channel directory: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		r.logger.Debug("discarding channel directory loaded before invalidation")
		return nil
	}
	for _, ch := range channels {
		for _, token := range ch.Tokens() {
			if !r.cache.SetIfAbsent(token, ch.ID) {
				if existing, _ := r.cache.Get(token); existing != ch.ID {
					r.logger.Warn("alias already bound to another channel",
						slog.String("alias", token),
						slog.String("kept", existing),
						slog.String("ignored", ch.ID))
				}
			}
		}
	}
	r.loaded = true
	r.loads++
	r.logger.Debug("channel directory loaded", slog.Int("channels", len(channels)))
	return nil
}
