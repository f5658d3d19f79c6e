package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/repository"
	"github.com/jwalitptl/fieldsync/pkg/logger"
)

const (
	skusKey      = "skus"
	posmsKey     = "posms"
	regionsKey   = "regions"
	locationsKey = "locations:%d"
)

// Subscriber delivers raw messages published on a channel until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// SKUGroup is every SKU of one category, in name order.
type SKUGroup struct {
	Category string       `json:"category"`
	SKUs     []*model.SKU `json:"skus"`
}

// Service serves the reference data forms are filled from. Regions,
// locations, SKUs and POSMs change rarely and are cached; outlets are per
// user and always read through.
type Service struct {
	repo   repository.CatalogRepository
	cache  *cache.Cache
	logger *logger.Logger
}

type Option func(*Service)

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(repo repository.CatalogRepository, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	s := &Service{
		repo:   repo,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Regions(ctx context.Context) ([]*model.Region, error) {
	if cached, ok := s.cache.Get(regionsKey); ok {
		return cached.([]*model.Region), nil
	}

	regions, err := s.repo.ListRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	s.cache.SetDefault(regionsKey, regions)
	return regions, nil
}

// Locations lists onboarding locations, limited to one region unless regionID is 0.
func (s *Service) Locations(ctx context.Context, regionID int64) ([]*model.Location, error) {
	key := fmt.Sprintf(locationsKey, regionID)
	if cached, ok := s.cache.Get(key); ok {
		return cached.([]*model.Location), nil
	}

	locations, err := s.repo.ListLocations(ctx, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	s.cache.SetDefault(key, locations)
	return locations, nil
}

func (s *Service) Outlets(ctx context.Context, userID string) ([]*model.Outlet, error) {
	outlets, err := s.repo.ListOutletsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outlets: %w", err)
	}
	return outlets, nil
}

func (s *Service) SKUsGrouped(ctx context.Context) ([]SKUGroup, error) {
	if cached, ok := s.cache.Get(skusKey); ok {
		return cached.([]SKUGroup), nil
	}

	skus, err := s.repo.ListSKUs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list skus: %w", err)
	}

	groups := []SKUGroup{}
	index := map[string]int{}
	for _, sku := range skus {
		i, ok := index[sku.Category]
		if !ok {
			i = len(groups)
			index[sku.Category] = i
			groups = append(groups, SKUGroup{Category: sku.Category})
		}
		groups[i].SKUs = append(groups[i].SKUs, sku)
	}

	s.cache.SetDefault(skusKey, groups)
	return groups, nil
}

func (s *Service) POSMs(ctx context.Context) ([]*model.POSM, error) {
	if cached, ok := s.cache.Get(posmsKey); ok {
		return cached.([]*model.POSM), nil
	}

	posms, err := s.repo.ListPOSMs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list posms: %w", err)
	}
	s.cache.SetDefault(posmsKey, posms)
	return posms, nil
}

// Invalidate drops cached reference data.
func (s *Service) Invalidate() {
	s.cache.Flush()
}

// Watch invalidates the cache on every message the back office publishes on
// channel after editing reference data. It blocks until ctx ends.
func (s *Service) Watch(ctx context.Context, sub Subscriber, channel string) error {
	msgs, err := sub.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("failed to watch catalog changes: %w", err)
	}
	for range msgs {
		s.Invalidate()
		s.logger.Info("catalog cache invalidated", "channel", channel)
	}
	return ctx.Err()
}
