// Package model defines the core domain types shared across the accounting
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeslot is a discrete simulation time bucket, totally ordered. It is the
// unit of settlement granularity: books are closed once per timeslot.
type Timeslot int64

// Broker is an autonomous trading agent with exactly one ledger account.
type Broker struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Product is a tradable commodity identifier, e.g. an energy future for a
// given delivery timeslot. Immutable once created.
type Product struct {
	ID           string    `json:"id" db:"id"` // ticker, NRG-{type}-{slot}
	Type         string    `json:"type" db:"type"`
	DeliverySlot Timeslot  `json:"delivery_slot" db:"delivery_slot"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// MarketTransaction is an immutable record of a cash and position change
// booked on behalf of the market engine. Once created, these are never
// modified or deleted.
type MarketTransaction struct {
	ID             string          `json:"id" db:"id"`
	BrokerID       string          `json:"broker_id" db:"broker_id"`
	ProductID      string          `json:"product_id" db:"product_id"`
	Timeslot       Timeslot        `json:"timeslot" db:"timeslot"`
	PositionChange decimal.Decimal `json:"position_change" db:"position_change"`
	CashChange     decimal.Decimal `json:"cash_change" db:"cash_change"`
	Origin         string          `json:"origin" db:"origin"` // submitting collaborator
	Reason         string          `json:"reason" db:"reason"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// TariffTxType identifies the economic event behind a TariffTransaction.
type TariffTxType string

const (
	TxPublish       TariffTxType = "PUBLISH"
	TxSignup        TariffTxType = "SIGNUP"
	TxWithdraw      TariffTxType = "WITHDRAW"
	TxConsume       TariffTxType = "CONSUME"
	TxProduce       TariffTxType = "PRODUCE"
	TxPeriodic      TariffTxType = "PERIODIC"
	TxRevoke        TariffTxType = "REVOKE"
	TxRevokeMigrate TariffTxType = "REVOKE_MIGRATE"
)

// ValidTariffTxType reports whether t is a known transaction type.
func ValidTariffTxType(t TariffTxType) bool {
	switch t {
	case TxPublish, TxSignup, TxWithdraw, TxConsume, TxProduce,
		TxPeriodic, TxRevoke, TxRevokeMigrate:
		return true
	}
	return false
}

// TariffTransaction is an immutable record of one economically significant
// tariff event. Amount is the energy quantity in kWh (signed: consumption
// negative, production positive). Charge is a debit against the broker's
// account: positive means the broker pays out, negative means the broker is
// paid.
type TariffTransaction struct {
	ID            string          `json:"id" db:"id"`
	Type          TariffTxType    `json:"type" db:"type"`
	TariffID      string          `json:"tariff_id" db:"tariff_id"`
	BrokerID      string          `json:"broker_id" db:"broker_id"`
	CustomerID    string          `json:"customer_id" db:"customer_id"`
	CustomerCount int             `json:"customer_count" db:"customer_count"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Charge        decimal.Decimal `json:"charge" db:"charge"`
	Timeslot      Timeslot        `json:"timeslot" db:"timeslot"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}

// TariffState is the lifecycle state of a published tariff.
type TariffState string

const (
	TariffPending TariffState = "PENDING"
	TariffActive  TariffState = "ACTIVE"
	TariffRevoked TariffState = "REVOKED" // terminal
)

// Rate prices energy during a daily hour window, [DailyBegin, DailyEnd).
type Rate struct {
	DailyBegin int             `json:"daily_begin"` // hour 0-23
	DailyEnd   int             `json:"daily_end"`   // hour 1-24
	Price      decimal.Decimal `json:"price"`       // per kWh
}

// TariffSpecification is a broker-authored, immutable tariff proposal.
type TariffSpecification struct {
	BrokerID         string          `json:"broker_id"`
	ProductType      string          `json:"product_type"` // CONSUMPTION or PRODUCTION
	Rates            []Rate          `json:"rates"`
	SignupFee        decimal.Decimal `json:"signup_fee"`
	EarlyWithdrawFee decimal.Decimal `json:"early_withdraw_fee"`
	PeriodicFee      decimal.Decimal `json:"periodic_fee"` // per customer per timeslot
	MinDuration      int             `json:"min_duration"` // timeslots
	IsDefault        bool            `json:"is_default"`   // fallback target on revocations
}

// Tariff is the registry's accepted wrapper around a specification. State
// transitions are owned exclusively by the tariff registry; REVOKED is
// terminal.
type Tariff struct {
	ID          string              `json:"id" db:"id"`
	Spec        TariffSpecification `json:"spec"`
	State       TariffState         `json:"state" db:"state"`
	PublishedAt time.Time           `json:"published_at" db:"published_at"`
	RevokedAt   *time.Time          `json:"revoked_at,omitempty" db:"revoked_at"`
}

// TariffSubscription binds a share of a customer to a tariff. Subscriptions
// hold identifier back-references only — never direct object ownership.
// Deleted (not mutated) on unsubscribe; superseded on revocation.
type TariffSubscription struct {
	ID            string    `json:"id" db:"id"`
	TariffID      string    `json:"tariff_id" db:"tariff_id"`
	BrokerID      string    `json:"broker_id" db:"broker_id"`
	CustomerID    string    `json:"customer_id" db:"customer_id"`
	CustomerCount int       `json:"customer_count" db:"customer_count"`
	EffectiveSlot Timeslot  `json:"effective_slot" db:"effective_slot"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// BrokerSummary is the per-broker report emitted once per timeslot close:
// running cash balance, running position per product, and every transaction
// recorded since the previous close.
type BrokerSummary struct {
	BrokerID           string                     `json:"broker_id"`
	Timeslot           Timeslot                   `json:"timeslot"`
	CashBalance        decimal.Decimal            `json:"cash_balance"`
	Positions          map[string]decimal.Decimal `json:"positions"` // productID → net
	MarketTransactions []MarketTransaction        `json:"market_transactions"`
	TariffTransactions []TariffTransaction        `json:"tariff_transactions"`
}
