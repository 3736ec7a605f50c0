package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/gridpilot/accounting-engine/internal/metrics"
	"github.com/gridpilot/accounting-engine/internal/model"
	"github.com/gridpilot/accounting-engine/internal/store"
)

var (
	// ErrPrematureClose is returned when CloseTimeslot runs before the
	// coordinator has marked all transaction-producing phases complete.
	// This is an ordering violation and fatal to the timeslot.
	ErrPrematureClose = errors.New("accounting: timeslot close before producing phases completed")

	// ErrLedgerDrift is returned when the incrementally maintained running
	// balance disagrees with a recomputation from the full transaction log.
	// It indicates the core accounting invariant is broken and is fatal to
	// the simulation run.
	ErrLedgerDrift = errors.New("accounting: running balance does not match transaction log")
)

// account is one broker's running state. Writes to a broker's books are
// serialized by the account mutex; different brokers proceed in parallel.
type account struct {
	mu        sync.Mutex
	brokerID  string
	cash      decimal.Decimal
	positions map[string]decimal.Decimal // productID → net position
	slots     map[model.Timeslot]*slotActivity
}

// slotActivity accumulates the unsettled activity for one timeslot. It is
// discarded when the timeslot closes.
type slotActivity struct {
	netLoad   decimal.Decimal // Σ tariff tx amounts, for the balancing step
	position  decimal.Decimal // Σ market position changes
	marketTxs []model.MarketTransaction
	tariffTxs []model.TariffTransaction
}

func (a *account) slot(ts model.Timeslot) *slotActivity {
	sa, ok := a.slots[ts]
	if !ok {
		sa = &slotActivity{}
		a.slots[ts] = sa
	}
	return sa
}

// Ledger is the authoritative, append-only record of broker cash and market
// positions. It is the only writer of balances: every change arrives through
// the factory, is persisted to the store, and is then folded into the running
// totals. The current timeslot is threaded through every call rather than
// held as ambient state, so concurrent timeslots (e.g. in tests) cannot
// cross-talk.
type Ledger struct {
	store   store.Store
	factory *Factory

	mu            sync.RWMutex // guards the maps below, not account internals
	accounts      map[string]*account
	producersDone map[model.Timeslot]bool
	closed        map[model.Timeslot][]model.BrokerSummary
	closedOrder   []model.Timeslot // close order, for eviction
}

// closedRetention bounds how many closed-timeslot summaries the ledger keeps
// for idempotent re-closes. Older entries are evicted in close order; in a
// long-running simulation the maps would otherwise grow with every slot.
const closedRetention = 64

// NewLedger creates a ledger over the given store. The factory validates
// every record call.
func NewLedger(st store.Store, f *Factory) *Ledger {
	return &Ledger{
		store:         st,
		factory:       f,
		accounts:      make(map[string]*account),
		producersDone: make(map[model.Timeslot]bool),
		closed:        make(map[model.Timeslot][]model.BrokerSummary),
	}
}

func (l *Ledger) account(brokerID string) *account {
	l.mu.RLock()
	a, ok := l.accounts[brokerID]
	l.mu.RUnlock()
	if ok {
		return a
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok = l.accounts[brokerID]; ok {
		return a
	}
	a = &account{
		brokerID:  brokerID,
		positions: make(map[string]decimal.Decimal),
		slots:     make(map[model.Timeslot]*slotActivity),
	}
	l.accounts[brokerID] = a
	return a
}

// RecordMarketTransaction validates, persists, and applies a market
// transaction for the given accounting timeslot. The append either completes
// fully or not at all: a store failure leaves the running balances untouched.
func (l *Ledger) RecordMarketTransaction(ctx context.Context, ts model.Timeslot, req MarketTxRequest) (*model.MarketTransaction, error) {
	tx, err := l.factory.MarketTransaction(ctx, ts, req)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			metrics.ValidationRejections.Inc()
		}
		return nil, err
	}

	a := l.account(tx.BrokerID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := l.store.InsertMarketTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("append market transaction: %w", err)
	}

	a.cash = a.cash.Add(tx.CashChange)
	a.positions[tx.ProductID] = a.positions[tx.ProductID].Add(tx.PositionChange)

	sa := a.slot(ts)
	sa.position = sa.position.Add(tx.PositionChange)
	sa.marketTxs = append(sa.marketTxs, *tx)

	metrics.MarketTransactionsTotal.Inc()
	return tx, nil
}

// RecordTariffTransaction validates, persists, and applies a tariff
// transaction for the given accounting timeslot.
func (l *Ledger) RecordTariffTransaction(ctx context.Context, ts model.Timeslot, req TariffTxRequest) (*model.TariffTransaction, error) {
	tx, err := l.factory.TariffTransaction(ctx, ts, req)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			metrics.ValidationRejections.Inc()
		}
		return nil, err
	}

	a := l.account(tx.BrokerID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := l.store.InsertTariffTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("append tariff transaction: %w", err)
	}

	a.cash = a.cash.Sub(tx.Charge)

	sa := a.slot(ts)
	sa.netLoad = sa.netLoad.Add(tx.Amount)
	sa.tariffTxs = append(sa.tariffTxs, *tx)

	metrics.TariffTransactionsTotal.WithLabelValues(string(tx.Type)).Inc()
	return tx, nil
}

// CurrentNetLoad returns the sum of unsettled tariff transaction amounts for
// a broker in the given timeslot. The balancing step reads this after all
// tariff transactions for the slot are recorded.
func (l *Ledger) CurrentNetLoad(ts model.Timeslot, brokerID string) decimal.Decimal {
	a := l.account(brokerID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if sa, ok := a.slots[ts]; ok {
		return sa.netLoad
	}
	return decimal.Zero
}

// CurrentMarketPosition returns the sum of market position changes for a
// broker in the given timeslot.
func (l *Ledger) CurrentMarketPosition(ts model.Timeslot, brokerID string) decimal.Decimal {
	a := l.account(brokerID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if sa, ok := a.slots[ts]; ok {
		return sa.position
	}
	return decimal.Zero
}

// CashBalance returns a broker's running cash balance.
func (l *Ledger) CashBalance(brokerID string) decimal.Decimal {
	a := l.account(brokerID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Positions returns a copy of a broker's running net positions per product.
func (l *Ledger) Positions(brokerID string) map[string]decimal.Decimal {
	a := l.account(brokerID)
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(a.positions))
	for k, v := range a.positions {
		out[k] = v
	}
	return out
}

// ProducersDone marks that every transaction-producing phase for the
// timeslot has completed. Only the phase coordinator calls this, immediately
// before CloseTimeslot.
func (l *Ledger) ProducersDone(ts model.Timeslot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.producersDone[ts] = true
}

// CloseTimeslot finalizes the books for a timeslot and returns one summary
// per registered broker: running cash balance, running positions, and every
// transaction recorded since the previous close. Closing is idempotent over
// the closedRetention most recent closes: a second call returns the identical
// summaries and applies nothing. Before
// snapshotting, each broker's running balance is audited against a fold of
// the full transaction log; any mismatch is ErrLedgerDrift.
func (l *Ledger) CloseTimeslot(ctx context.Context, ts model.Timeslot) ([]model.BrokerSummary, error) {
	l.mu.Lock()
	if cached, ok := l.closed[ts]; ok {
		l.mu.Unlock()
		out := make([]model.BrokerSummary, len(cached))
		copy(out, cached)
		return out, nil
	}
	if !l.producersDone[ts] {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: timeslot %d", ErrPrematureClose, ts)
	}
	l.mu.Unlock()

	brokers, err := l.store.ListBrokers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list brokers: %w", err)
	}

	summaries := make([]model.BrokerSummary, 0, len(brokers))
	for _, b := range brokers {
		summary, err := l.closeBroker(ctx, ts, b.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].BrokerID < summaries[j].BrokerID
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.closed[ts]; ok {
		// Lost a close race; the first result stands.
		out := make([]model.BrokerSummary, len(cached))
		copy(out, cached)
		return out, nil
	}
	l.closed[ts] = summaries
	l.closedOrder = append(l.closedOrder, ts)
	delete(l.producersDone, ts)
	if len(l.closedOrder) > closedRetention {
		evict := l.closedOrder[0]
		l.closedOrder = l.closedOrder[1:]
		delete(l.closed, evict)
	}

	out := make([]model.BrokerSummary, len(summaries))
	copy(out, summaries)
	return out, nil
}

func (l *Ledger) closeBroker(ctx context.Context, ts model.Timeslot, brokerID string) (model.BrokerSummary, error) {
	a := l.account(brokerID)
	a.mu.Lock()
	defer a.mu.Unlock()

	recomputed, err := l.recomputeBalance(ctx, brokerID)
	if err != nil {
		return model.BrokerSummary{}, err
	}
	if !recomputed.Equal(a.cash) {
		return model.BrokerSummary{}, fmt.Errorf("%w: broker %s running=%s recomputed=%s",
			ErrLedgerDrift, brokerID, a.cash, recomputed)
	}

	positions := make(map[string]decimal.Decimal, len(a.positions))
	for k, v := range a.positions {
		positions[k] = v
	}

	summary := model.BrokerSummary{
		BrokerID:    brokerID,
		Timeslot:    ts,
		CashBalance: a.cash,
		Positions:   positions,
	}
	if sa, ok := a.slots[ts]; ok {
		summary.MarketTransactions = sa.marketTxs
		summary.TariffTransactions = sa.tariffTxs
		delete(a.slots, ts)
	}
	return summary, nil
}

// recomputeBalance folds the broker's full transaction log from the store:
// market cash changes are credits, tariff charges are debits. Caller holds
// the account lock.
func (l *Ledger) recomputeBalance(ctx context.Context, brokerID string) (decimal.Decimal, error) {
	marketTxs, err := l.store.ListMarketTransactionsByBroker(ctx, brokerID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("recompute %s: %w", brokerID, err)
	}
	tariffTxs, err := l.store.ListTariffTransactionsByBroker(ctx, brokerID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("recompute %s: %w", brokerID, err)
	}

	total := decimal.Zero
	for _, tx := range marketTxs {
		total = total.Add(tx.CashChange)
	}
	for _, tx := range tariffTxs {
		total = total.Sub(tx.Charge)
	}
	return total, nil
}
