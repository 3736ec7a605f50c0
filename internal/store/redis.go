package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gridpilot/accounting-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the tariff catalog, the hottest read path (customer models poll
// the active list every timeslot). Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Transaction appends and subscription queries pass through, since
// the ledger keeps its own running state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateTariff(ctx context.Context, t *model.Tariff) error {
	if err := s.primary.CreateTariff(ctx, t); err != nil {
		return err
	}
	s.cacheTariff(ctx, t)
	s.rdb.Del(ctx, activeTariffsKey)
	return nil
}

func (s *CachedStore) UpdateTariffState(ctx context.Context, id string, state model.TariffState, revokedAt *time.Time) error {
	if err := s.primary.UpdateTariffState(ctx, id, state, revokedAt); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, tariffKey(id), activeTariffsKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTariff(ctx context.Context, id string) (*model.Tariff, error) {
	data, err := s.rdb.Get(ctx, tariffKey(id)).Bytes()
	if err == nil {
		var t model.Tariff
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTariff(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheTariff(ctx, t)
	return t, nil
}

func (s *CachedStore) ListTariffsByState(ctx context.Context, state model.TariffState) ([]model.Tariff, error) {
	// Only the ACTIVE list is cached; it is the customer-facing hot path.
	if state != model.TariffActive {
		return s.primary.ListTariffsByState(ctx, state)
	}

	data, err := s.rdb.Get(ctx, activeTariffsKey).Bytes()
	if err == nil {
		var tariffs []model.Tariff
		if json.Unmarshal(data, &tariffs) == nil {
			return tariffs, nil
		}
	}

	tariffs, err := s.primary.ListTariffsByState(ctx, state)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(tariffs); err == nil {
		s.rdb.Set(ctx, activeTariffsKey, data, s.ttl)
	}
	return tariffs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateBroker(ctx context.Context, b *model.Broker) error {
	return s.primary.CreateBroker(ctx, b)
}

func (s *CachedStore) GetBroker(ctx context.Context, id string) (*model.Broker, error) {
	return s.primary.GetBroker(ctx, id)
}

func (s *CachedStore) ListBrokers(ctx context.Context) ([]model.Broker, error) {
	return s.primary.ListBrokers(ctx)
}

func (s *CachedStore) CreateProduct(ctx context.Context, p *model.Product) error {
	return s.primary.CreateProduct(ctx, p)
}

func (s *CachedStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return s.primary.GetProduct(ctx, id)
}

func (s *CachedStore) InsertMarketTransaction(ctx context.Context, tx *model.MarketTransaction) error {
	return s.primary.InsertMarketTransaction(ctx, tx)
}

func (s *CachedStore) InsertTariffTransaction(ctx context.Context, tx *model.TariffTransaction) error {
	return s.primary.InsertTariffTransaction(ctx, tx)
}

func (s *CachedStore) ListMarketTransactionsByBroker(ctx context.Context, brokerID string) ([]model.MarketTransaction, error) {
	return s.primary.ListMarketTransactionsByBroker(ctx, brokerID)
}

func (s *CachedStore) ListTariffTransactionsByBroker(ctx context.Context, brokerID string) ([]model.TariffTransaction, error) {
	return s.primary.ListTariffTransactionsByBroker(ctx, brokerID)
}

func (s *CachedStore) ListTariffsByBroker(ctx context.Context, brokerID string) ([]model.Tariff, error) {
	return s.primary.ListTariffsByBroker(ctx, brokerID)
}

func (s *CachedStore) CreateSubscription(ctx context.Context, sub *model.TariffSubscription) error {
	return s.primary.CreateSubscription(ctx, sub)
}

func (s *CachedStore) GetSubscription(ctx context.Context, id string) (*model.TariffSubscription, error) {
	return s.primary.GetSubscription(ctx, id)
}

func (s *CachedStore) DeleteSubscription(ctx context.Context, id string) error {
	return s.primary.DeleteSubscription(ctx, id)
}

func (s *CachedStore) UpdateSubscriptionTariff(ctx context.Context, id, newTariffID string) error {
	return s.primary.UpdateSubscriptionTariff(ctx, id, newTariffID)
}

func (s *CachedStore) ListSubscriptionsByTariff(ctx context.Context, tariffID string) ([]model.TariffSubscription, error) {
	return s.primary.ListSubscriptionsByTariff(ctx, tariffID)
}

func (s *CachedStore) ListSubscriptions(ctx context.Context) ([]model.TariffSubscription, error) {
	return s.primary.ListSubscriptions(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheTariff(ctx context.Context, t *model.Tariff) {
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, tariffKey(t.ID), data, s.ttl)
	}
}

const activeTariffsKey = "tariffs:active"

func tariffKey(id string) string { return fmt.Sprintf("tariff:%s", id) }
