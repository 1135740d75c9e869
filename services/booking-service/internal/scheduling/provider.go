package scheduling

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
)

// Source loads a provider's weekly schedule rows.
type Source interface {
	ListSchedules(ctx context.Context, providerID string) ([]model.WeeklySchedule, error)
}

// Provider is the weekly schedule read model used by slot queries.
type Provider interface {
	WeeklySchedules(ctx context.Context, providerID string) ([]model.WeeklySchedule, error)
	Invalidate(providerID string)
}

type cachedProvider struct {
	source Source
	cache  *expirable.LRU[string, []model.WeeklySchedule]

	mu   sync.Mutex
	gens map[string]uint64
}

// NewProvider caches rows per provider in an expiring LRU. size <= 0 disables caching.
func NewProvider(source Source, size int, ttl time.Duration) Provider {
	p := &cachedProvider{source: source, gens: map[string]uint64{}}
	if size > 0 {
		p.cache = expirable.NewLRU[string, []model.WeeklySchedule](size, nil, ttl)
	}
	return p
}

func (p *cachedProvider) generation(providerID string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gens[providerID]
}

func (p *cachedProvider) WeeklySchedules(ctx context.Context, providerID string) ([]model.WeeklySchedule, error) {
	if p.cache == nil {
		return p.source.ListSchedules(ctx, providerID)
	}
	if rows, ok := p.cache.Get(providerID); ok {
		return slices.Clone(rows), nil
	}
	gen := p.generation(providerID)
	rows, err := p.source.ListSchedules(ctx, providerID)
	if err != nil {
		return nil, err
	}
	// Rows read before an Invalidate are returned but not kept.
	p.mu.Lock()
	if p.gens[providerID] == gen {
		p.cache.Add(providerID, slices.Clone(rows))
	}
	p.mu.Unlock()
	return rows, nil
}

func (p *cachedProvider) Invalidate(providerID string) {
	if p.cache == nil {
		return
	}
	p.mu.Lock()
	p.gens[providerID]++
	p.cache.Remove(providerID)
	p.mu.Unlock()
}
