package tariff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridpilot/accounting-engine/internal/accounting"
	"github.com/gridpilot/accounting-engine/internal/metrics"
	"github.com/gridpilot/accounting-engine/internal/model"
	"github.com/gridpilot/accounting-engine/internal/store"
)

// ErrNotAuthorized is returned when a broker attempts a lifecycle transition
// on a tariff it did not publish.
var ErrNotAuthorized = errors.New("tariff: requester is not the publishing broker")

// Registry owns the tariff catalog and all tariff state transitions.
// A specification is either accepted (the tariff goes ACTIVE and a PUBLISH
// transaction books the publication fee) or rejected — by rule violation,
// reported as a value, or by malformed input, reported as an error.
type Registry struct {
	store  store.Store
	ledger *accounting.Ledger
	subs   *SubscriptionManager
	rules  Rules

	// publicationFee is debited from the broker on every accepted tariff.
	publicationFee decimal.Decimal

	// mu serializes submissions and revocations so the duplicate check and
	// the migration scan each see a consistent catalog.
	mu sync.Mutex
}

// NewRegistry creates a tariff registry.
func NewRegistry(st store.Store, ledger *accounting.Ledger, subs *SubscriptionManager, rules Rules, publicationFee decimal.Decimal) *Registry {
	return &Registry{
		store:          st,
		ledger:         ledger,
		subs:           subs,
		rules:          rules,
		publicationFee: publicationFee,
	}
}

// SubmitSpecification validates a broker's tariff specification and, if it
// passes the acceptance rules, publishes it as an ACTIVE tariff.
//
// The three outcomes are distinct: (tariff, nil, nil) on acceptance;
// (nil, violation, nil) when the market rules reject the specification —
// an expected outcome, no tariff is created and nothing is booked; and
// (nil, nil, err) for malformed input or infrastructure failure.
func (r *Registry) SubmitSpecification(ctx context.Context, ts model.Timeslot, spec model.TariffSpecification) (*model.Tariff, *RuleViolation, error) {
	if spec.BrokerID == "" {
		return nil, nil, &accounting.ValidationError{Field: "broker_id", Reason: "must not be empty"}
	}
	if _, err := r.store.GetBroker(ctx, spec.BrokerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, &accounting.ValidationError{Field: "broker_id", Reason: "unknown broker " + spec.BrokerID}
		}
		return nil, nil, fmt.Errorf("resolve broker: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.ListTariffsByBroker(ctx, spec.BrokerID)
	if err != nil {
		return nil, nil, fmt.Errorf("list broker tariffs: %w", err)
	}
	if v := r.rules.Check(spec, existing); v != nil {
		metrics.TariffRuleRejections.WithLabelValues(v.Code).Inc()
		slog.Info("tariff specification rejected",
			"broker", spec.BrokerID, "code", v.Code, "reason", v.Message)
		return nil, v, nil
	}

	tariff := &model.Tariff{
		ID:          uuid.New().String(),
		Spec:        spec,
		State:       model.TariffActive,
		PublishedAt: time.Now().UTC(),
	}
	if err := r.store.CreateTariff(ctx, tariff); err != nil {
		return nil, nil, fmt.Errorf("create tariff: %w", err)
	}

	if r.publicationFee.IsPositive() {
		_, err := r.ledger.RecordTariffTransaction(ctx, ts, accounting.TariffTxRequest{
			Type:     model.TxPublish,
			TariffID: tariff.ID,
			Charge:   r.publicationFee,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("book publication fee: %w", err)
		}
	}

	metrics.TariffsActive.Inc()
	slog.Info("tariff published",
		"tariff", tariff.ID, "broker", spec.BrokerID,
		"product_type", spec.ProductType, "default", spec.IsDefault)
	return tariff, nil, nil
}

// Revoke transitions an ACTIVE tariff to REVOKED on the publishing broker's
// request, books a REVOKE transaction, and migrates all affected
// subscriptions to the broker's default tariff. REVOKED is terminal:
// revoking an already-revoked tariff is a no-op returning the tariff as-is.
func (r *Registry) Revoke(ctx context.Context, ts model.Timeslot, tariffID, requestingBroker string) (*model.Tariff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tariff, err := r.store.GetTariff(ctx, tariffID)
	if err != nil {
		return nil, err
	}
	if tariff.Spec.BrokerID != requestingBroker {
		return nil, fmt.Errorf("%w: tariff %s belongs to %s", ErrNotAuthorized, tariffID, tariff.Spec.BrokerID)
	}
	if tariff.State == model.TariffRevoked {
		return tariff, nil
	}

	now := time.Now().UTC()
	if err := r.store.UpdateTariffState(ctx, tariffID, model.TariffRevoked, &now); err != nil {
		return nil, fmt.Errorf("revoke tariff: %w", err)
	}
	tariff.State = model.TariffRevoked
	tariff.RevokedAt = &now

	if _, err := r.ledger.RecordTariffTransaction(ctx, ts, accounting.TariffTxRequest{
		Type:     model.TxRevoke,
		TariffID: tariffID,
	}); err != nil {
		return nil, fmt.Errorf("book revocation: %w", err)
	}

	migrated, err := r.subs.OnRevoke(ctx, ts, tariff)
	if err != nil {
		return nil, fmt.Errorf("migrate subscriptions: %w", err)
	}

	metrics.TariffsActive.Dec()
	slog.Info("tariff revoked",
		"tariff", tariffID, "broker", requestingBroker, "migrated_subscriptions", migrated)
	return tariff, nil
}

// ListActive returns an immutable snapshot of the ACTIVE tariffs at call
// time. Callers iterate their own copy; concurrent revocations are not
// blocked and do not affect a snapshot already taken.
func (r *Registry) ListActive(ctx context.Context) ([]model.Tariff, error) {
	tariffs, err := r.store.ListTariffsByState(ctx, model.TariffActive)
	if err != nil {
		return nil, err
	}
	if tariffs == nil {
		tariffs = []model.Tariff{}
	}
	return tariffs, nil
}
