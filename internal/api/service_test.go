package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/gridpilot/accounting-engine/internal/accounting"
	"github.com/gridpilot/accounting-engine/internal/api"
	"github.com/gridpilot/accounting-engine/internal/model"
	"github.com/gridpilot/accounting-engine/internal/phase"
	"github.com/gridpilot/accounting-engine/internal/store"
	"github.com/gridpilot/accounting-engine/internal/tariff"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv wires the full service over an in-memory store and chi router.
func newTestEnv(t *testing.T) (chi.Router, *phase.Coordinator) {
	t.Helper()
	ms := store.NewMemoryStore()
	ledger := accounting.NewLedger(ms, accounting.NewFactory(ms))
	subs := tariff.NewSubscriptionManager(ms, ledger)
	rules := tariff.Rules{MinRate: d(0.01), MaxRate: d(1)}
	registry := tariff.NewRegistry(ms, ledger, subs, rules, decimal.Zero)
	coordinator := phase.NewCoordinator(ledger, time.Second, nil)
	svc := api.NewService(ms, ledger, registry, subs, coordinator)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return r, coordinator
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedBroker(t *testing.T, router chi.Router, id string) {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/brokers", api.CreateBrokerRequest{ID: id, Name: id})
	if w.Code != http.StatusCreated {
		t.Fatalf("failed to seed broker: %d %s", w.Code, w.Body.String())
	}
}

func seedProduct(t *testing.T, router chi.Router, id string) {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/products", api.CreateProductRequest{ID: id})
	if w.Code != http.StatusCreated {
		t.Fatalf("failed to seed product: %d %s", w.Code, w.Body.String())
	}
}

func submitTariff(t *testing.T, router chi.Router, spec model.TariffSpecification) *model.Tariff {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/tariffs", spec)
	if w.Code != http.StatusCreated {
		t.Fatalf("failed to submit tariff: %d %s", w.Code, w.Body.String())
	}
	var resp api.TariffSubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Tariff == nil {
		t.Fatalf("expected a tariff in the response: %s", w.Body.String())
	}
	return resp.Tariff
}

func TestCreateBroker_Duplicate(t *testing.T) {
	router, _ := newTestEnv(t)
	seedBroker(t, router, "b1")

	w := doJSON(t, router, "POST", "/api/v1/brokers", api.CreateBrokerRequest{ID: "b1"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate broker, got %d", w.Code)
	}
}

func TestCreateProduct_InvalidTicker(t *testing.T) {
	router, _ := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/products", api.CreateProductRequest{ID: "INVALID-TICKER"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid ticker, got %d", w.Code)
	}
}

func TestCreateMarketTransaction_UpdatesSummary(t *testing.T) {
	router, _ := newTestEnv(t)
	seedBroker(t, router, "b1")
	seedProduct(t, router, "NRG-FUTURE-10")

	w := doJSON(t, router, "POST", "/api/v1/market-transactions", accounting.MarketTxRequest{
		BrokerID:       "b1",
		ProductID:      "NRG-FUTURE-10",
		PositionChange: d(10),
		CashChange:     d(-500),
		Origin:         "wholesale-market",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var tx model.MarketTransaction
	json.Unmarshal(w.Body.Bytes(), &tx)
	if tx.ID == "" {
		t.Error("expected non-empty transaction id")
	}

	sw := doJSON(t, router, "GET", "/api/v1/brokers/b1/summary", nil)
	if sw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", sw.Code, sw.Body.String())
	}
	var summary api.BrokerSummaryResponse
	json.Unmarshal(sw.Body.Bytes(), &summary)
	if !summary.CashBalance.Equal(d(-500)) {
		t.Errorf("expected cash -500, got %s", summary.CashBalance)
	}
	if !summary.Positions["NRG-FUTURE-10"].Equal(d(10)) {
		t.Errorf("expected position 10, got %s", summary.Positions["NRG-FUTURE-10"])
	}
}

func TestCreateMarketTransaction_UnknownBroker(t *testing.T) {
	router, _ := newTestEnv(t)
	seedProduct(t, router, "NRG-FUTURE-10")

	w := doJSON(t, router, "POST", "/api/v1/market-transactions", accounting.MarketTxRequest{
		BrokerID:   "ghost",
		ProductID:  "NRG-FUTURE-10",
		CashChange: d(100),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown broker, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitTariff_ViolationIsOK(t *testing.T) {
	router, _ := newTestEnv(t)
	seedBroker(t, router, "b1")

	spec := model.TariffSpecification{
		BrokerID:    "b1",
		ProductType: "CONSUMPTION",
		Rates:       []model.Rate{{DailyBegin: 0, DailyEnd: 24, Price: d(0.15)}},
		SignupFee:   d(-1),
	}
	w := doJSON(t, router, "POST", "/api/v1/tariffs", spec)
	if w.Code != http.StatusOK {
		t.Fatalf("a rule violation is an expected outcome, expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.TariffSubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Tariff != nil {
		t.Error("rejected specification must not return a tariff")
	}
	if resp.Violation == nil || resp.Violation.Code != tariff.CodeNegativeFee {
		t.Errorf("expected negative-fee violation, got %+v", resp.Violation)
	}
}

func TestTariffLifecycle_SubscribeAndRevoke(t *testing.T) {
	router, _ := newTestEnv(t)
	seedBroker(t, router, "b1")

	published := submitTariff(t, router, model.TariffSpecification{
		BrokerID:    "b1",
		ProductType: "CONSUMPTION",
		Rates:       []model.Rate{{DailyBegin: 0, DailyEnd: 24, Price: d(0.15)}},
	})

	aw := doJSON(t, router, "GET", "/api/v1/tariffs/active", nil)
	var active []model.Tariff
	json.Unmarshal(aw.Body.Bytes(), &active)
	if len(active) != 1 {
		t.Fatalf("expected 1 active tariff, got %d", len(active))
	}

	sw := doJSON(t, router, "POST", "/api/v1/subscriptions", api.SubscribeRequest{
		TariffID:      published.ID,
		CustomerID:    "c1",
		CustomerCount: 5,
	})
	if sw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", sw.Code, sw.Body.String())
	}

	// Revocation by a stranger is forbidden.
	seedBroker(t, router, "b2")
	fw := doJSON(t, router, "POST", "/api/v1/tariffs/"+published.ID+"/revoke", api.RevokeRequest{BrokerID: "b2"})
	if fw.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", fw.Code, fw.Body.String())
	}

	rw := doJSON(t, router, "POST", "/api/v1/tariffs/"+published.ID+"/revoke", api.RevokeRequest{BrokerID: "b1"})
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var revoked model.Tariff
	json.Unmarshal(rw.Body.Bytes(), &revoked)
	if revoked.State != model.TariffRevoked {
		t.Errorf("expected REVOKED, got %s", revoked.State)
	}

	// Subscribing to the revoked tariff conflicts.
	cw := doJSON(t, router, "POST", "/api/v1/subscriptions", api.SubscribeRequest{
		TariffID:      published.ID,
		CustomerID:    "c2",
		CustomerCount: 1,
	})
	if cw.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", cw.Code, cw.Body.String())
	}
}

func TestUnsubscribe_NotFound(t *testing.T) {
	router, _ := newTestEnv(t)

	w := doJSON(t, router, "DELETE", "/api/v1/subscriptions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetBrokerSummary_UnknownBroker(t *testing.T) {
	router, _ := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/brokers/ghost/summary", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSubmissionsRejectedAfterAbort(t *testing.T) {
	router, coordinator := newTestEnv(t)
	seedBroker(t, router, "b1")
	seedProduct(t, router, "NRG-FUTURE-10")

	coordinator.Abort()

	w := doJSON(t, router, "POST", "/api/v1/market-transactions", accounting.MarketTxRequest{
		BrokerID:   "b1",
		ProductID:  "NRG-FUTURE-10",
		CashChange: d(100),
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after abort, got %d: %s", w.Code, w.Body.String())
	}
}
