package tariff_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gridpilot/accounting-engine/internal/accounting"
	"github.com/gridpilot/accounting-engine/internal/model"
	"github.com/gridpilot/accounting-engine/internal/store"
	"github.com/gridpilot/accounting-engine/internal/tariff"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	store    *store.MemoryStore
	ledger   *accounting.Ledger
	subs     *tariff.SubscriptionManager
	registry *tariff.Registry
}

// newTestEnv wires the tariff market over an in-memory store with a
// publication fee of 2 and rate bounds [0.01, 1].
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	ledger := accounting.NewLedger(ms, accounting.NewFactory(ms))
	subs := tariff.NewSubscriptionManager(ms, ledger)
	rules := tariff.Rules{MinRate: d(0.01), MaxRate: d(1)}
	registry := tariff.NewRegistry(ms, ledger, subs, rules, d(2))
	return &testEnv{store: ms, ledger: ledger, subs: subs, registry: registry}
}

func (e *testEnv) seedBroker(t *testing.T, id string) {
	t.Helper()
	if err := e.store.CreateBroker(context.Background(), &model.Broker{ID: id, Name: id}); err != nil {
		t.Fatalf("failed to seed broker: %v", err)
	}
}

func validSpec(brokerID string) model.TariffSpecification {
	return model.TariffSpecification{
		BrokerID:    brokerID,
		ProductType: "CONSUMPTION",
		Rates: []model.Rate{
			{DailyBegin: 0, DailyEnd: 24, Price: d(0.15)},
		},
		SignupFee:        d(20),
		EarlyWithdrawFee: d(50),
		PeriodicFee:      d(0.5),
		MinDuration:      10,
	}
}

func TestSubmitSpecification_Accepted(t *testing.T) {
	env := newTestEnv(t)
	env.seedBroker(t, "b1")

	published, violation, err := env.registry.SubmitSpecification(context.Background(), 1, validSpec("b1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if violation != nil {
		t.Fatalf("unexpected violation: %v", violation)
	}
	if published == nil || published.ID == "" {
		t.Fatal("expected a published tariff")
	}
	if published.State != model.TariffActive {
		t.Errorf("expected ACTIVE state, got %s", published.State)
	}

	// Publication fee debited.
	if got := env.ledger.CashBalance("b1"); !got.Equal(d(-2)) {
		t.Errorf("expected publication fee debit -2, got %s", got)
	}

	active, err := env.registry.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list active failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != published.ID {
		t.Errorf("expected the published tariff in the active list, got %+v", active)
	}
}

func TestSubmitSpecification_RuleViolationHasNoSideEffect(t *testing.T) {
	env := newTestEnv(t)
	env.seedBroker(t, "b1")

	spec := validSpec("b1")
	spec.SignupFee = d(-5)

	published, violation, err := env.registry.SubmitSpecification(context.Background(), 1, spec)
	if err != nil {
		t.Fatalf("a rule violation must not be an error: %v", err)
	}
	if published != nil {
		t.Error("rejected specification must not produce a tariff")
	}
	if violation == nil || violation.Code != tariff.CodeNegativeFee {
		t.Fatalf("expected negative-fee violation, got %v", violation)
	}

	if got := env.ledger.CashBalance("b1"); !got.IsZero() {
		t.Errorf("rejected specification must not move cash, got %s", got)
	}
	active, _ := env.registry.ListActive(context.Background())
	if len(active) != 0 {
		t.Errorf("rejected specification must not enter the catalog, got %d", len(active))
	}
}

func TestSubmitSpecification_RateBounds(t *testing.T) {
	env := newTestEnv(t)
	env.seedBroker(t, "b1")

	spec := validSpec("b1")
	spec.Rates[0].Price = d(5) // above max 1

	_, violation, err := env.registry.SubmitSpecification(context.Background(), 1, spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if violation == nil || violation.Code != tariff.CodeRateAboveMax {
		t.Errorf("expected rate-above-maximum violation, got %v", violation)
	}
}

func TestSubmitSpecification_UnknownBroker(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.registry.SubmitSpecification(context.Background(), 1, validSpec("ghost"))
	if !errors.Is(err, accounting.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown broker, got %v", err)
	}
}

func TestSubmitSpecification_ConflictingTerms(t *testing.T) {
	env := newTestEnv(t)
	env.seedBroker(t, "b1")
	ctx := context.Background()

	if _, v, err := env.registry.SubmitSpecification(ctx, 1, validSpec("b1")); err != nil || v != nil {
		t.Fatalf("first submission should pass: v=%v err=%v", v, err)
	}

	// Same windows, different price → conflict.
	spec := validSpec("b1")
	spec.Rates[0].Price = d(0.30)
	_, violation, err := env.registry.SubmitSpecification(ctx, 1, spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if violation == nil || violation.Code != tariff.CodeConflictingTerms {
		t.Errorf("expected conflicting-terms violation, got %v", violation)
	}

	// Identical terms are not a conflict.
	_, violation, err = env.registry.SubmitSpecification(ctx, 1, validSpec("b1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if violation != nil {
		t.Errorf("identical terms should not conflict, got %v", violation)
	}
}

func TestRevoke_NotPublisher(t *testing.T) {
	env := newTestEnv(t)
	env.seedBroker(t, "b1")
	env.seedBroker(t, "b2")
	ctx := context.Background()

	published, _, err := env.registry.SubmitSpecification(ctx, 1, validSpec("b1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	_, err = env.registry.Revoke(ctx, 2, published.ID, "b2")
	if !errors.Is(err, tariff.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}

	got, _ := env.store.GetTariff(ctx, published.ID)
	if got.State != model.TariffActive {
		t.Errorf("unauthorized revoke must not change state, got %s", got.State)
	}
}

func TestRevoke_MigratesSubscriptionsToDefault(t *testing.T) {
	env := newTestEnv(t)
	env.seedBroker(t, "b1")
	ctx := context.Background()

	// A default fallback tariff with no fees, and a premium tariff.
	defSpec := validSpec("b1")
	defSpec.SignupFee = decimal.Zero
	defSpec.PeriodicFee = decimal.Zero
	defSpec.IsDefault = true
	defTariff, _, err := env.registry.SubmitSpecification(ctx, 1, defSpec)
	if err != nil {
		t.Fatalf("submit default failed: %v", err)
	}

	// Different rate structure, so it does not conflict with the default.
	premSpec := validSpec("b1")
	premSpec.Rates = []model.Rate{
		{DailyBegin: 0, DailyEnd: 8, Price: d(0.10)},
		{DailyBegin: 8, DailyEnd: 24, Price: d(0.20)},
	}
	premium, violation, err := env.registry.SubmitSpecification(ctx, 1, premSpec)
	if err != nil {
		t.Fatalf("submit premium failed: %v", err)
	}
	if violation != nil {
		t.Fatalf("premium tariff should pass the rules: %v", violation)
	}

	for _, customer := range []string{"c1", "c2", "c3"} {
		if _, err := env.subs.Subscribe(ctx, 2, customer, 10, premium.ID); err != nil {
			t.Fatalf("subscribe %s failed: %v", customer, err)
		}
	}

	txsBefore, _ := env.store.ListTariffTransactionsByBroker(ctx, "b1")

	revoked, err := env.registry.Revoke(ctx, 5, premium.ID, "b1")
	if err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if revoked.State != model.TariffRevoked || revoked.RevokedAt == nil {
		t.Errorf("expected REVOKED with timestamp, got %+v", revoked)
	}

	// No subscription may still reference the revoked tariff.
	orphans, _ := env.store.ListSubscriptionsByTariff(ctx, premium.ID)
	if len(orphans) != 0 {
		t.Errorf("expected 0 subscriptions on revoked tariff, got %d", len(orphans))
	}
	migrated, _ := env.store.ListSubscriptionsByTariff(ctx, defTariff.ID)
	if len(migrated) != 3 {
		t.Errorf("expected 3 subscriptions on the default tariff, got %d", len(migrated))
	}

	// Exactly one REVOKE and one REVOKE_MIGRATE per subscription.
	txsAfter, _ := env.store.ListTariffTransactionsByBroker(ctx, "b1")
	var revokes, migrations int
	for _, tx := range txsAfter[len(txsBefore):] {
		switch tx.Type {
		case model.TxRevoke:
			revokes++
		case model.TxRevokeMigrate:
			migrations++
		}
	}
	if revokes != 1 {
		t.Errorf("expected 1 REVOKE transaction, got %d", revokes)
	}
	if migrations != 3 {
		t.Errorf("expected 3 REVOKE_MIGRATE transactions, got %d", migrations)
	}
}

func TestRevoke_NoDefaultDropsSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	env.seedBroker(t, "b1")
	ctx := context.Background()

	published, _, err := env.registry.SubmitSpecification(ctx, 1, validSpec("b1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := env.subs.Subscribe(ctx, 2, "c1", 5, published.ID); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if _, err := env.registry.Revoke(ctx, 3, published.ID, "b1"); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	remaining, _ := env.store.ListSubscriptions(ctx)
	if len(remaining) != 0 {
		t.Errorf("with no default tariff the subscriptions must be dropped, got %d", len(remaining))
	}
}

func TestRevoke_IsTerminalAndIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedBroker(t, "b1")
	ctx := context.Background()

	published, _, err := env.registry.SubmitSpecification(ctx, 1, validSpec("b1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := env.registry.Revoke(ctx, 2, published.ID, "b1"); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	txsBefore, _ := env.store.ListTariffTransactionsByBroker(ctx, "b1")
	again, err := env.registry.Revoke(ctx, 3, published.ID, "b1")
	if err != nil {
		t.Fatalf("second revoke must be a no-op, got %v", err)
	}
	if again.State != model.TariffRevoked {
		t.Errorf("expected REVOKED, got %s", again.State)
	}
	txsAfter, _ := env.store.ListTariffTransactionsByBroker(ctx, "b1")
	if len(txsAfter) != len(txsBefore) {
		t.Errorf("second revoke must not book transactions: %d → %d", len(txsBefore), len(txsAfter))
	}
}
