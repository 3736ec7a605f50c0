package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridpilot/accounting-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu            sync.RWMutex
	brokers       map[string]*model.Broker
	products      map[string]*model.Product
	tariffs       map[string]*model.Tariff
	subscriptions map[string]*model.TariffSubscription
	marketTxs     []model.MarketTransaction
	tariffTxs     []model.TariffTransaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		brokers:       make(map[string]*model.Broker),
		products:      make(map[string]*model.Product),
		tariffs:       make(map[string]*model.Tariff),
		subscriptions: make(map[string]*model.TariffSubscription),
	}
}

func (s *MemoryStore) CreateBroker(_ context.Context, b *model.Broker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.brokers[b.ID]; ok {
		return fmt.Errorf("%w: broker %s", ErrDuplicate, b.ID)
	}
	cp := *b
	s.brokers[b.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBroker(_ context.Context, id string) (*model.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.brokers[id]
	if !ok {
		return nil, fmt.Errorf("%w: broker %s", ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) ListBrokers(_ context.Context) ([]model.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	brokers := make([]model.Broker, 0, len(s.brokers))
	for _, b := range s.brokers {
		brokers = append(brokers, *b)
	}
	return brokers, nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("%w: product %s", ErrDuplicate, p.ID)
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) InsertMarketTransaction(_ context.Context, tx *model.MarketTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marketTxs = append(s.marketTxs, *tx)
	return nil
}

func (s *MemoryStore) InsertTariffTransaction(_ context.Context, tx *model.TariffTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tariffTxs = append(s.tariffTxs, *tx)
	return nil
}

func (s *MemoryStore) ListMarketTransactionsByBroker(_ context.Context, brokerID string) ([]model.MarketTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.MarketTransaction
	for _, tx := range s.marketTxs {
		if tx.BrokerID == brokerID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTariffTransactionsByBroker(_ context.Context, brokerID string) ([]model.TariffTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TariffTransaction
	for _, tx := range s.tariffTxs {
		if tx.BrokerID == brokerID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateTariff(_ context.Context, t *model.Tariff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tariffs[t.ID]; ok {
		return fmt.Errorf("%w: tariff %s", ErrDuplicate, t.ID)
	}
	cp := *t
	s.tariffs[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTariff(_ context.Context, id string) (*model.Tariff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tariffs[id]
	if !ok {
		return nil, fmt.Errorf("%w: tariff %s", ErrNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) UpdateTariffState(_ context.Context, id string, state model.TariffState, revokedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tariffs[id]
	if !ok {
		return fmt.Errorf("%w: tariff %s", ErrNotFound, id)
	}
	t.State = state
	t.RevokedAt = revokedAt
	return nil
}

func (s *MemoryStore) ListTariffsByState(_ context.Context, state model.TariffState) ([]model.Tariff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Tariff
	for _, t := range s.tariffs {
		if t.State == state {
			result = append(result, *t)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTariffsByBroker(_ context.Context, brokerID string) ([]model.Tariff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Tariff
	for _, t := range s.tariffs {
		if t.Spec.BrokerID == brokerID {
			result = append(result, *t)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub *model.TariffSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; ok {
		return fmt.Errorf("%w: subscription %s", ErrDuplicate, sub.ID)
	}
	cp := *sub
	s.subscriptions[sub.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, id string) (*model.TariffSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[id]; !ok {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}
	delete(s.subscriptions, id)
	return nil
}

func (s *MemoryStore) UpdateSubscriptionTariff(_ context.Context, id, newTariffID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}
	sub.TariffID = newTariffID
	return nil
}

func (s *MemoryStore) ListSubscriptionsByTariff(_ context.Context, tariffID string) ([]model.TariffSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TariffSubscription
	for _, sub := range s.subscriptions {
		if sub.TariffID == tariffID {
			result = append(result, *sub)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListSubscriptions(_ context.Context) ([]model.TariffSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.TariffSubscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		result = append(result, *sub)
	}
	return result, nil
}
