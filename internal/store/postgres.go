package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gridpilot/accounting-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// tariff specifications are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateBroker(ctx context.Context, b *model.Broker) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO brokers (id, name, created_at) VALUES ($1, $2, $3)`,
		b.ID, b.Name, b.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetBroker(ctx context.Context, id string) (*model.Broker, error) {
	var b model.Broker
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM brokers WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: broker %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get broker %s: %w", id, err)
	}
	return &b, nil
}

func (s *PostgresStore) ListBrokers(ctx context.Context) ([]model.Broker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_at FROM brokers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brokers []model.Broker
	for rows.Next() {
		var b model.Broker
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		brokers = append(brokers, b)
	}
	return brokers, rows.Err()
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *model.Product) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (id, type, delivery_slot, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Type, int64(p.DeliverySlot), p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	var slot int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, delivery_slot, created_at FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Type, &slot, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	p.DeliverySlot = model.Timeslot(slot)
	return &p, nil
}

func (s *PostgresStore) InsertMarketTransaction(ctx context.Context, tx *model.MarketTransaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_transactions
		   (id, broker_id, product_id, timeslot, position_change, cash_change, origin, reason, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
		tx.ID, tx.BrokerID, tx.ProductID, int64(tx.Timeslot),
		tx.PositionChange.String(), tx.CashChange.String(),
		tx.Origin, tx.Reason, tx.Timestamp,
	)
	return err
}

func (s *PostgresStore) InsertTariffTransaction(ctx context.Context, tx *model.TariffTransaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tariff_transactions
		   (id, type, tariff_id, broker_id, customer_id, customer_count, amount, charge, timeslot, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		tx.ID, string(tx.Type), tx.TariffID, tx.BrokerID, tx.CustomerID, tx.CustomerCount,
		tx.Amount.String(), tx.Charge.String(), int64(tx.Timeslot), tx.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListMarketTransactionsByBroker(ctx context.Context, brokerID string) ([]model.MarketTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, broker_id, product_id, timeslot,
		        position_change::TEXT, cash_change::TEXT, origin, reason, timestamp
		 FROM market_transactions WHERE broker_id = $1 ORDER BY timestamp`, brokerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.MarketTransaction
	for rows.Next() {
		var tx model.MarketTransaction
		var slot int64
		var posS, cashS string
		if err := rows.Scan(&tx.ID, &tx.BrokerID, &tx.ProductID, &slot,
			&posS, &cashS, &tx.Origin, &tx.Reason, &tx.Timestamp); err != nil {
			return nil, err
		}
		tx.Timeslot = model.Timeslot(slot)
		tx.PositionChange, _ = decimal.NewFromString(posS)
		tx.CashChange, _ = decimal.NewFromString(cashS)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) ListTariffTransactionsByBroker(ctx context.Context, brokerID string) ([]model.TariffTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, tariff_id, broker_id, customer_id, customer_count,
		        amount::TEXT, charge::TEXT, timeslot, timestamp
		 FROM tariff_transactions WHERE broker_id = $1 ORDER BY timestamp`, brokerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.TariffTransaction
	for rows.Next() {
		var tx model.TariffTransaction
		var typ string
		var slot int64
		var amountS, chargeS string
		if err := rows.Scan(&tx.ID, &typ, &tx.TariffID, &tx.BrokerID, &tx.CustomerID,
			&tx.CustomerCount, &amountS, &chargeS, &slot, &tx.Timestamp); err != nil {
			return nil, err
		}
		tx.Type = model.TariffTxType(typ)
		tx.Timeslot = model.Timeslot(slot)
		tx.Amount, _ = decimal.NewFromString(amountS)
		tx.Charge, _ = decimal.NewFromString(chargeS)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) CreateTariff(ctx context.Context, t *model.Tariff) error {
	spec, err := json.Marshal(t.Spec)
	if err != nil {
		return fmt.Errorf("marshal tariff spec: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tariffs (id, broker_id, spec, state, published_at, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Spec.BrokerID, spec, string(t.State), t.PublishedAt, t.RevokedAt,
	)
	return err
}

func (s *PostgresStore) GetTariff(ctx context.Context, id string) (*model.Tariff, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, spec, state, published_at, revoked_at FROM tariffs WHERE id = $1`, id)
	t, err := scanTariff(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: tariff %s", ErrNotFound, id)
	}
	return t, err
}

func (s *PostgresStore) UpdateTariffState(ctx context.Context, id string, state model.TariffState, revokedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tariffs SET state = $2, revoked_at = $3 WHERE id = $1`,
		id, string(state), revokedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: tariff %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) ListTariffsByState(ctx context.Context, state model.TariffState) ([]model.Tariff, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, spec, state, published_at, revoked_at
		 FROM tariffs WHERE state = $1 ORDER BY published_at`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTariffs(rows)
}

func (s *PostgresStore) ListTariffsByBroker(ctx context.Context, brokerID string) ([]model.Tariff, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, spec, state, published_at, revoked_at
		 FROM tariffs WHERE broker_id = $1 ORDER BY published_at`, brokerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTariffs(rows)
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *model.TariffSubscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions
		   (id, tariff_id, broker_id, customer_id, customer_count, effective_slot, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.TariffID, sub.BrokerID, sub.CustomerID, sub.CustomerCount,
		int64(sub.EffectiveSlot), sub.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*model.TariffSubscription, error) {
	var sub model.TariffSubscription
	var slot int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, tariff_id, broker_id, customer_id, customer_count, effective_slot, created_at
		 FROM subscriptions WHERE id = $1`, id).
		Scan(&sub.ID, &sub.TariffID, &sub.BrokerID, &sub.CustomerID,
			&sub.CustomerCount, &slot, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	sub.EffectiveSlot = model.Timeslot(slot)
	return &sub, nil
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) UpdateSubscriptionTariff(ctx context.Context, id, newTariffID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET tariff_id = $2 WHERE id = $1`, id, newTariffID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) ListSubscriptionsByTariff(ctx context.Context, tariffID string) ([]model.TariffSubscription, error) {
	return s.listSubscriptions(ctx,
		`SELECT id, tariff_id, broker_id, customer_id, customer_count, effective_slot, created_at
		 FROM subscriptions WHERE tariff_id = $1 ORDER BY created_at`, tariffID)
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]model.TariffSubscription, error) {
	return s.listSubscriptions(ctx,
		`SELECT id, tariff_id, broker_id, customer_id, customer_count, effective_slot, created_at
		 FROM subscriptions ORDER BY created_at`)
}

func (s *PostgresStore) listSubscriptions(ctx context.Context, query string, args ...any) ([]model.TariffSubscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.TariffSubscription
	for rows.Next() {
		var sub model.TariffSubscription
		var slot int64
		if err := rows.Scan(&sub.ID, &sub.TariffID, &sub.BrokerID, &sub.CustomerID,
			&sub.CustomerCount, &slot, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.EffectiveSlot = model.Timeslot(slot)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTariff(row rowScanner) (*model.Tariff, error) {
	var t model.Tariff
	var spec []byte
	var state string
	if err := row.Scan(&t.ID, &spec, &state, &t.PublishedAt, &t.RevokedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(spec, &t.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal tariff spec: %w", err)
	}
	t.State = model.TariffState(state)
	return &t, nil
}

func scanTariffs(rows pgx.Rows) ([]model.Tariff, error) {
	var tariffs []model.Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		tariffs = append(tariffs, *t)
	}
	return tariffs, rows.Err()
}
