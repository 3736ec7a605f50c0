// Package tariff implements the tariff market: the registry that validates,
// publishes, and revokes broker tariffs, and the subscription manager that
// binds customer shares to them.
package tariff

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gridpilot/accounting-engine/internal/model"
)

// Rule violation codes.
const (
	CodeNoRates          = "no-rates"
	CodeBadRateWindow    = "bad-rate-window"
	CodeRateBelowMin     = "rate-below-minimum"
	CodeRateAboveMax     = "rate-above-maximum"
	CodeNegativeFee      = "negative-fee"
	CodeMissingProduct   = "missing-product-type"
	CodeConflictingTerms = "conflicting-terms"
)

// RuleViolation describes why a specification fails the market acceptance
// rules. It is a normal, expected outcome communicated to the broker — not
// an error: malformed input and infrastructure failures travel on the error
// path instead.
type RuleViolation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (v RuleViolation) String() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// Rules holds the commonly agreed market acceptance thresholds. Per-rate
// prices must stay within [MinRate, MaxRate]; all fees must be non-negative.
type Rules struct {
	MinRate decimal.Decimal
	MaxRate decimal.Decimal
}

// Check runs a specification against the acceptance rules. existing is the
// submitting broker's current tariff catalog, used for the duplicate check.
// Returns nil if the specification passes.
func (r Rules) Check(spec model.TariffSpecification, existing []model.Tariff) *RuleViolation {
	if spec.ProductType == "" {
		return &RuleViolation{Code: CodeMissingProduct, Message: "product type is required"}
	}
	if len(spec.Rates) == 0 {
		return &RuleViolation{Code: CodeNoRates, Message: "at least one rate is required"}
	}

	for i, rate := range spec.Rates {
		if rate.DailyBegin < 0 || rate.DailyEnd > 24 || rate.DailyBegin >= rate.DailyEnd {
			return &RuleViolation{
				Code:    CodeBadRateWindow,
				Message: fmt.Sprintf("rate %d window [%d,%d) is invalid", i, rate.DailyBegin, rate.DailyEnd),
			}
		}
		if rate.Price.LessThan(r.MinRate) {
			return &RuleViolation{
				Code:    CodeRateBelowMin,
				Message: fmt.Sprintf("rate %d price %s is below minimum %s", i, rate.Price, r.MinRate),
			}
		}
		if rate.Price.GreaterThan(r.MaxRate) {
			return &RuleViolation{
				Code:    CodeRateAboveMax,
				Message: fmt.Sprintf("rate %d price %s is above maximum %s", i, rate.Price, r.MaxRate),
			}
		}
	}

	for _, fee := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"signup_fee", spec.SignupFee},
		{"early_withdraw_fee", spec.EarlyWithdrawFee},
		{"periodic_fee", spec.PeriodicFee},
	} {
		if fee.value.IsNegative() {
			return &RuleViolation{
				Code:    CodeNegativeFee,
				Message: fmt.Sprintf("%s must not be negative, got %s", fee.name, fee.value),
			}
		}
	}

	// Duplicate with conflicting terms: the same broker may not publish a
	// second tariff for the same product type with identical rate windows
	// but different prices.
	for _, t := range existing {
		if t.State != model.TariffActive || t.Spec.ProductType != spec.ProductType {
			continue
		}
		if sameWindows(t.Spec.Rates, spec.Rates) && !samePrices(t.Spec.Rates, spec.Rates) {
			return &RuleViolation{
				Code:    CodeConflictingTerms,
				Message: fmt.Sprintf("conflicts with active tariff %s for product %s", t.ID, spec.ProductType),
			}
		}
	}

	return nil
}

func sameWindows(a, b []model.Rate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].DailyBegin != b[i].DailyBegin || a[i].DailyEnd != b[i].DailyEnd {
			return false
		}
	}
	return true
}

func samePrices(a, b []model.Rate) bool {
	for i := range a {
		if !a[i].Price.Equal(b[i].Price) {
			return false
		}
	}
	return true
}
