package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Supported product types.
const (
	ProductFuture    = "FUTURE"    // energy delivery commitment for one timeslot
	ProductBalancing = "BALANCING" // regulation energy settled at close
)

var validProductTypes = map[string]bool{
	ProductFuture:    true,
	ProductBalancing: true,
}

// tickerRegex matches: NRG-{type}-{deliverySlot}
// Example: NRG-FUTURE-384
var tickerRegex = regexp.MustCompile(`^NRG-([A-Z]+)-(\d+)$`)

var (
	ErrInvalidTicker      = errors.New("model: invalid product ticker format")
	ErrInvalidProductType = errors.New("model: unsupported product type")
)

// ParseProductID parses and validates a product ticker string.
// Format: NRG-{type}-{deliverySlot}
func ParseProductID(ticker string) (*Product, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected NRG-{type}-{slot})",
			ErrInvalidTicker, ticker)
	}

	productType := matches[1]
	slotStr := matches[2]

	if !validProductTypes[productType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProductType, productType)
	}

	slot, err := strconv.ParseInt(slotStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid delivery slot %s", ErrInvalidTicker, slotStr)
	}

	return &Product{
		ID:           ticker,
		Type:         productType,
		DeliverySlot: Timeslot(slot),
	}, nil
}
