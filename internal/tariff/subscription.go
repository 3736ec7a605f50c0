package tariff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gridpilot/accounting-engine/internal/accounting"
	"github.com/gridpilot/accounting-engine/internal/model"
	"github.com/gridpilot/accounting-engine/internal/store"
)

// ErrTariffNotActive is returned when a customer attempts to subscribe to a
// tariff that is not in the ACTIVE state.
var ErrTariffNotActive = errors.New("tariff: not active")

// SubscriptionManager owns the customer-tariff relation. It never writes
// balances directly: every cash effect of a subscription event goes through
// the ledger.
type SubscriptionManager struct {
	store  store.Store
	ledger *accounting.Ledger
}

// NewSubscriptionManager creates a subscription manager.
func NewSubscriptionManager(st store.Store, ledger *accounting.Ledger) *SubscriptionManager {
	return &SubscriptionManager{store: st, ledger: ledger}
}

// Subscribe binds customerCount shares of a customer to an ACTIVE tariff,
// effective from the given timeslot. If the tariff carries a signup fee, a
// SIGNUP transaction debits the publishing broker (the fee is a signup bonus
// paid to the customer). A non-active tariff fails with ErrTariffNotActive
// before any ledger side effect.
func (m *SubscriptionManager) Subscribe(ctx context.Context, ts model.Timeslot, customerID string, customerCount int, tariffID string) (*model.TariffSubscription, error) {
	if customerID == "" {
		return nil, &accounting.ValidationError{Field: "customer_id", Reason: "must not be empty"}
	}
	if customerCount <= 0 {
		return nil, &accounting.ValidationError{Field: "customer_count", Reason: "must be positive"}
	}

	tariff, err := m.store.GetTariff(ctx, tariffID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &accounting.ValidationError{Field: "tariff_id", Reason: "unknown tariff " + tariffID}
		}
		return nil, fmt.Errorf("resolve tariff: %w", err)
	}
	if tariff.State != model.TariffActive {
		return nil, fmt.Errorf("%w: tariff %s is %s", ErrTariffNotActive, tariffID, tariff.State)
	}

	sub := &model.TariffSubscription{
		ID:            uuid.New().String(),
		TariffID:      tariffID,
		BrokerID:      tariff.Spec.BrokerID,
		CustomerID:    customerID,
		CustomerCount: customerCount,
		EffectiveSlot: ts,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	if tariff.Spec.SignupFee.IsPositive() {
		charge := tariff.Spec.SignupFee.Mul(decimalFromInt(customerCount))
		if _, err := m.ledger.RecordTariffTransaction(ctx, ts, accounting.TariffTxRequest{
			Type:          model.TxSignup,
			TariffID:      tariffID,
			CustomerID:    customerID,
			CustomerCount: customerCount,
			Charge:        charge,
		}); err != nil {
			// No partial state on the error branch: the relation goes too.
			if derr := m.store.DeleteSubscription(ctx, sub.ID); derr != nil {
				slog.Warn("signup fee rollback failed",
					"subscription", sub.ID, "tariff", tariffID, "err", derr)
			}
			return nil, fmt.Errorf("book signup fee: %w", err)
		}
	}

	slog.Info("customer subscribed",
		"subscription", sub.ID, "tariff", tariffID,
		"customer", customerID, "count", customerCount)
	return sub, nil
}

// Unsubscribe deletes a subscription. Leaving before the tariff's minimum
// duration has elapsed books a WITHDRAW transaction crediting the broker
// with the early-withdrawal fee.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context, ts model.Timeslot, subscriptionID string) error {
	sub, err := m.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	tariff, err := m.store.GetTariff(ctx, sub.TariffID)
	if err != nil {
		return fmt.Errorf("resolve tariff: %w", err)
	}

	if err := m.store.DeleteSubscription(ctx, subscriptionID); err != nil {
		return err
	}

	early := ts < sub.EffectiveSlot+model.Timeslot(tariff.Spec.MinDuration)
	if early && tariff.Spec.EarlyWithdrawFee.IsPositive() {
		charge := tariff.Spec.EarlyWithdrawFee.Mul(decimalFromInt(sub.CustomerCount)).Neg()
		if _, err := m.ledger.RecordTariffTransaction(ctx, ts, accounting.TariffTxRequest{
			Type:          model.TxWithdraw,
			TariffID:      sub.TariffID,
			CustomerID:    sub.CustomerID,
			CustomerCount: sub.CustomerCount,
			Charge:        charge,
		}); err != nil {
			// Reinstate the relation; the withdrawal did not happen.
			if cerr := m.store.CreateSubscription(ctx, sub); cerr != nil {
				slog.Warn("withdrawal fee rollback failed",
					"subscription", sub.ID, "tariff", sub.TariffID, "err", cerr)
			}
			return fmt.Errorf("book withdrawal fee: %w", err)
		}
	}

	slog.Info("customer unsubscribed",
		"subscription", subscriptionID, "tariff", sub.TariffID, "early", early)
	return nil
}

// OnRevoke migrates every subscription on a revoked tariff to the
// publisher's default tariff, booking one REVOKE_MIGRATE transaction per
// subscription so the ledger trail stays complete. When the publisher has no
// default tariff, the affected subscriptions are dropped instead — a forced
// withdrawal, still logged the same way. Returns the number of
// subscriptions processed; afterwards none reference the revoked tariff.
func (m *SubscriptionManager) OnRevoke(ctx context.Context, ts model.Timeslot, revoked *model.Tariff) (int, error) {
	subs, err := m.store.ListSubscriptionsByTariff(ctx, revoked.ID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	target, err := m.defaultTariffFor(ctx, revoked.Spec.BrokerID, revoked.ID)
	if err != nil {
		return 0, err
	}

	for _, sub := range subs {
		if target != nil {
			if err := m.store.UpdateSubscriptionTariff(ctx, sub.ID, target.ID); err != nil {
				return 0, fmt.Errorf("migrate subscription %s: %w", sub.ID, err)
			}
		} else {
			if err := m.store.DeleteSubscription(ctx, sub.ID); err != nil {
				return 0, fmt.Errorf("drop subscription %s: %w", sub.ID, err)
			}
		}

		if _, err := m.ledger.RecordTariffTransaction(ctx, ts, accounting.TariffTxRequest{
			Type:          model.TxRevokeMigrate,
			TariffID:      revoked.ID,
			CustomerID:    sub.CustomerID,
			CustomerCount: sub.CustomerCount,
		}); err != nil {
			return 0, fmt.Errorf("book migration for subscription %s: %w", sub.ID, err)
		}
	}

	return len(subs), nil
}

// defaultTariffFor returns the broker's oldest ACTIVE default tariff,
// excluding the tariff being revoked, or nil if none exists.
func (m *SubscriptionManager) defaultTariffFor(ctx context.Context, brokerID, excludeID string) (*model.Tariff, error) {
	tariffs, err := m.store.ListTariffsByBroker(ctx, brokerID)
	if err != nil {
		return nil, fmt.Errorf("list broker tariffs: %w", err)
	}

	var candidates []model.Tariff
	for _, t := range tariffs {
		if t.ID != excludeID && t.State == model.TariffActive && t.Spec.IsDefault {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].PublishedAt.Before(candidates[j].PublishedAt)
	})
	return &candidates[0], nil
}
