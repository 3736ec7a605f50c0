// Package store defines the persistence interface for the accounting engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gridpilot/accounting-engine/internal/model"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a create would violate uniqueness.
var ErrDuplicate = errors.New("store: already exists")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The transaction log tables are
// append-only: there is deliberately no update or delete for them.
type Store interface {
	// --- Brokers and products ---

	// CreateBroker registers a broker account.
	CreateBroker(ctx context.Context, b *model.Broker) error

	// GetBroker retrieves a broker by ID.
	GetBroker(ctx context.Context, id string) (*model.Broker, error)

	// ListBrokers returns all registered brokers.
	ListBrokers(ctx context.Context) ([]model.Broker, error)

	// CreateProduct registers a tradable product.
	CreateProduct(ctx context.Context, p *model.Product) error

	// GetProduct retrieves a product by ticker.
	GetProduct(ctx context.Context, id string) (*model.Product, error)

	// --- Append-only transaction log ---

	// InsertMarketTransaction appends an immutable market transaction.
	InsertMarketTransaction(ctx context.Context, tx *model.MarketTransaction) error

	// InsertTariffTransaction appends an immutable tariff transaction.
	InsertTariffTransaction(ctx context.Context, tx *model.TariffTransaction) error

	// ListMarketTransactionsByBroker returns the full market transaction
	// history for a broker in record order.
	ListMarketTransactionsByBroker(ctx context.Context, brokerID string) ([]model.MarketTransaction, error)

	// ListTariffTransactionsByBroker returns the full tariff transaction
	// history for a broker in record order.
	ListTariffTransactionsByBroker(ctx context.Context, brokerID string) ([]model.TariffTransaction, error)

	// --- Tariff catalog ---

	// CreateTariff persists an accepted tariff.
	CreateTariff(ctx context.Context, t *model.Tariff) error

	// GetTariff retrieves a tariff by ID.
	GetTariff(ctx context.Context, id string) (*model.Tariff, error)

	// UpdateTariffState transitions a tariff's lifecycle state.
	UpdateTariffState(ctx context.Context, id string, state model.TariffState, revokedAt *time.Time) error

	// ListTariffsByState returns all tariffs in the given state.
	ListTariffsByState(ctx context.Context, state model.TariffState) ([]model.Tariff, error)

	// ListTariffsByBroker returns all tariffs published by a broker.
	ListTariffsByBroker(ctx context.Context, brokerID string) ([]model.Tariff, error)

	// --- Subscriptions ---

	// CreateSubscription persists a customer-tariff binding.
	CreateSubscription(ctx context.Context, s *model.TariffSubscription) error

	// GetSubscription retrieves a subscription by ID.
	GetSubscription(ctx context.Context, id string) (*model.TariffSubscription, error)

	// DeleteSubscription removes a subscription (unsubscribe).
	DeleteSubscription(ctx context.Context, id string) error

	// UpdateSubscriptionTariff reassigns a subscription to another tariff
	// (revocation migration).
	UpdateSubscriptionTariff(ctx context.Context, id, newTariffID string) error

	// ListSubscriptionsByTariff returns all subscriptions bound to a tariff.
	ListSubscriptionsByTariff(ctx context.Context, tariffID string) ([]model.TariffSubscription, error)

	// ListSubscriptions returns every subscription.
	ListSubscriptions(ctx context.Context) ([]model.TariffSubscription, error)
}
