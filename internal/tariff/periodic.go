package tariff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/gridpilot/accounting-engine/internal/accounting"
	"github.com/gridpilot/accounting-engine/internal/model"
	"github.com/gridpilot/accounting-engine/internal/store"
)

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// PeriodicCharger is a transaction-producing phase that books the per-slot
// periodic payment for every live subscription: customers pay the tariff's
// periodic fee to the publishing broker each timeslot. A failure on one
// subscription is logged and skipped so it never blocks the other brokers'
// charges.
type PeriodicCharger struct {
	store  store.Store
	ledger *accounting.Ledger
}

// NewPeriodicCharger creates the periodic payment phase.
func NewPeriodicCharger(st store.Store, ledger *accounting.Ledger) *PeriodicCharger {
	return &PeriodicCharger{store: st, ledger: ledger}
}

// Name implements the phase interface.
func (p *PeriodicCharger) Name() string { return "tariff-periodic" }

// Execute books one PERIODIC transaction per fee-carrying subscription for
// the given timeslot.
func (p *PeriodicCharger) Execute(ctx context.Context, ts model.Timeslot) error {
	subs, err := p.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	for _, sub := range subs {
		tariff, err := p.store.GetTariff(ctx, sub.TariffID)
		if err != nil {
			slog.Warn("periodic charge skipped, tariff unresolved",
				"subscription", sub.ID, "tariff", sub.TariffID, "err", err)
			continue
		}
		if !tariff.Spec.PeriodicFee.IsPositive() {
			continue
		}

		charge := tariff.Spec.PeriodicFee.Mul(decimalFromInt(sub.CustomerCount)).Neg()
		if _, err := p.ledger.RecordTariffTransaction(ctx, ts, accounting.TariffTxRequest{
			Type:          model.TxPeriodic,
			TariffID:      sub.TariffID,
			CustomerID:    sub.CustomerID,
			CustomerCount: sub.CustomerCount,
			Charge:        charge,
		}); err != nil {
			slog.Warn("periodic charge failed, skipped",
				"subscription", sub.ID, "broker", sub.BrokerID, "err", err)
		}
	}
	return nil
}
