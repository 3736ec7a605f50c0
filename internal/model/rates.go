package model

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ChargeScale is the number of decimal places for charge rounding. Rounding
// is applied exactly once, when a transaction is created; aggregation over
// already-rounded charges never re-rounds, so settlement totals cannot drift.
const ChargeScale int32 = 4

// ErrNoRateCoverage is returned when a tariff has no rate covering the
// requested hour of day.
var ErrNoRateCoverage = errors.New("model: no rate covers the requested hour")

// RateAt returns the price per kWh in effect at the given hour of day
// (0-23). Rates are checked in declaration order; the first window that
// covers the hour wins.
func (s TariffSpecification) RateAt(hour int) (decimal.Decimal, error) {
	h := ((hour % 24) + 24) % 24
	for _, r := range s.Rates {
		if h >= r.DailyBegin && h < r.DailyEnd {
			return r.Price, nil
		}
	}
	return decimal.Decimal{}, ErrNoRateCoverage
}

// ChargeFor computes the broker debit for metering kwh under this tariff at
// the given hour. Consumption (negative kwh) yields a negative charge, i.e.
// the broker is paid; production (positive kwh) yields a positive charge.
// The result is rounded here and only here.
func (s TariffSpecification) ChargeFor(kwh decimal.Decimal, hour int) (decimal.Decimal, error) {
	rate, err := s.RateAt(hour)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return kwh.Mul(rate).Round(ChargeScale), nil
}
