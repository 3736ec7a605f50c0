package model

import (
	"errors"
	"testing"
)

func TestParseProductID_Valid(t *testing.T) {
	p, err := ParseProductID("NRG-FUTURE-384")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "NRG-FUTURE-384" {
		t.Errorf("expected id=NRG-FUTURE-384, got %s", p.ID)
	}
	if p.Type != ProductFuture {
		t.Errorf("expected type=FUTURE, got %s", p.Type)
	}
	if p.DeliverySlot != 384 {
		t.Errorf("expected delivery_slot=384, got %d", p.DeliverySlot)
	}
}

func TestParseProductID_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"INVALID",
		"NRG-FUTURE",
		"NRG-FUTURE-",
		"NRG-future-384", // lowercase type
		"NRG-FUTURE-abc",
		"BTC-FUTURE-384", // wrong prefix
		"NRG-FUTURE-384-extra",
	}
	for _, ticker := range tests {
		_, err := ParseProductID(ticker)
		if err == nil {
			t.Errorf("expected error for ticker %q", ticker)
		}
	}
}

func TestParseProductID_InvalidType(t *testing.T) {
	_, err := ParseProductID("NRG-SPOT-384")
	if !errors.Is(err, ErrInvalidProductType) {
		t.Errorf("expected ErrInvalidProductType, got %v", err)
	}
}

func TestParseProductID_AllTypes(t *testing.T) {
	types := []string{"FUTURE", "BALANCING"}
	for _, typ := range types {
		ticker := "NRG-" + typ + "-42"
		p, err := ParseProductID(ticker)
		if err != nil {
			t.Errorf("unexpected error for type %s: %v", typ, err)
			continue
		}
		if p.Type != typ {
			t.Errorf("expected type=%s, got %s", typ, p.Type)
		}
	}
}
