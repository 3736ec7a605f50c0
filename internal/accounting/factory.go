// Package accounting implements the broker ledger: the append-only record of
// cash and market-position changes, and the factory that validates every
// transaction before it can touch the books.
//
// All monetary values use shopspring/decimal — never float64 for money.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridpilot/accounting-engine/internal/model"
	"github.com/gridpilot/accounting-engine/internal/store"
)

// ErrValidation is the sentinel wrapped by every ValidationError. Callers
// check it with errors.Is; a validation failure is local to the submitting
// collaborator and never aborts a timeslot.
var ErrValidation = errors.New("accounting: validation failed")

// ValidationError describes a malformed or unresolvable transaction request.
// The request is rejected, never silently dropped.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("accounting: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// MarketTxRequest is a market engine's request to book a position and cash
// change for a broker.
type MarketTxRequest struct {
	BrokerID       string          `json:"broker_id"`
	ProductID      string          `json:"product_id"`
	PositionChange decimal.Decimal `json:"position_change"`
	CashChange     decimal.Decimal `json:"cash_change"`
	Origin         string          `json:"origin"`
	Reason         string          `json:"reason"`
}

// TariffTxRequest is a customer model's (or the tariff registry's) request to
// book a tariff event.
type TariffTxRequest struct {
	Type          model.TariffTxType `json:"type"`
	TariffID      string             `json:"tariff_id"`
	CustomerID    string             `json:"customer_id"`
	CustomerCount int                `json:"customer_count"`
	Amount        decimal.Decimal    `json:"amount"`
	Charge        decimal.Decimal    `json:"charge"`
}

// Factory validates and materializes typed transactions. It is the single
// choke point through which all transaction creation passes; collaborators
// never construct ledger records themselves, so the append-only invariant
// cannot be bypassed. Rounding of cash values happens here, exactly once.
type Factory struct {
	store store.Store
}

// NewFactory creates a transaction factory backed by the given store for
// reference validation.
func NewFactory(st store.Store) *Factory {
	return &Factory{store: st}
}

// MarketTransaction validates req and materializes an immutable market
// transaction stamped with the given accounting timeslot.
func (f *Factory) MarketTransaction(ctx context.Context, ts model.Timeslot, req MarketTxRequest) (*model.MarketTransaction, error) {
	if req.BrokerID == "" {
		return nil, &ValidationError{Field: "broker_id", Reason: "must not be empty"}
	}
	if req.ProductID == "" {
		return nil, &ValidationError{Field: "product_id", Reason: "must not be empty"}
	}
	if _, err := f.store.GetBroker(ctx, req.BrokerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ValidationError{Field: "broker_id", Reason: "unknown broker " + req.BrokerID}
		}
		return nil, fmt.Errorf("resolve broker: %w", err)
	}
	if _, err := f.store.GetProduct(ctx, req.ProductID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ValidationError{Field: "product_id", Reason: "unknown product " + req.ProductID}
		}
		return nil, fmt.Errorf("resolve product: %w", err)
	}
	if req.PositionChange.IsZero() && req.CashChange.IsZero() {
		return nil, &ValidationError{Field: "position_change", Reason: "transaction must move cash or position"}
	}

	return &model.MarketTransaction{
		ID:             uuid.New().String(),
		BrokerID:       req.BrokerID,
		ProductID:      req.ProductID,
		Timeslot:       ts,
		PositionChange: req.PositionChange,
		CashChange:     req.CashChange.Round(model.ChargeScale),
		Origin:         req.Origin,
		Reason:         req.Reason,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// customerBound lists transaction types that must reference a customer.
var customerBound = map[model.TariffTxType]bool{
	model.TxSignup:        true,
	model.TxWithdraw:      true,
	model.TxConsume:       true,
	model.TxProduce:       true,
	model.TxPeriodic:      true,
	model.TxRevokeMigrate: true,
}

// TariffTransaction validates req, resolves the tariff's publishing broker,
// and materializes an immutable tariff transaction for the given timeslot.
func (f *Factory) TariffTransaction(ctx context.Context, ts model.Timeslot, req TariffTxRequest) (*model.TariffTransaction, error) {
	if !model.ValidTariffTxType(req.Type) {
		return nil, &ValidationError{Field: "type", Reason: "unknown transaction type " + string(req.Type)}
	}
	if req.TariffID == "" {
		return nil, &ValidationError{Field: "tariff_id", Reason: "must not be empty"}
	}
	if req.CustomerCount < 0 {
		return nil, &ValidationError{Field: "customer_count", Reason: "must not be negative"}
	}
	if customerBound[req.Type] && req.CustomerID == "" {
		return nil, &ValidationError{Field: "customer_id", Reason: "required for " + string(req.Type)}
	}

	tariff, err := f.store.GetTariff(ctx, req.TariffID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ValidationError{Field: "tariff_id", Reason: "unknown tariff " + req.TariffID}
		}
		return nil, fmt.Errorf("resolve tariff: %w", err)
	}

	return &model.TariffTransaction{
		ID:            uuid.New().String(),
		Type:          req.Type,
		TariffID:      req.TariffID,
		BrokerID:      tariff.Spec.BrokerID,
		CustomerID:    req.CustomerID,
		CustomerCount: req.CustomerCount,
		Amount:        req.Amount,
		Charge:        req.Charge.Round(model.ChargeScale),
		Timeslot:      ts,
		Timestamp:     time.Now().UTC(),
	}, nil
}
