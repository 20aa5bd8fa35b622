package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxfret/cascade/core/cascade"
	"github.com/fluxfret/cascade/core/chain"
	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/core/storage"
	"github.com/fluxfret/cascade/internal/clock"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

type nopNotifier struct{}

func (nopNotifier) NotifyAttempt(context.Context, model.Order, *model.DispatchChain, model.DispatchAttempt, time.Time) error {
	return nil
}
func (nopNotifier) NotifyReminder(context.Context, model.Order, *model.DispatchChain, model.DispatchAttempt, time.Duration) error {
	return nil
}
func (nopNotifier) NotifyAssigned(context.Context, model.Order, *model.DispatchChain, string) error {
	return nil
}

type stubBroker struct{ n int }

func (b *stubBroker) Submit(context.Context, model.Order) (string, error) {
	b.n++
	return fmt.Sprintf("aff-%d", b.n), nil
}
func (b *stubBroker) Cancel(context.Context, string, string) error { return nil }

type allScores struct{}

func (allScores) CurrentScore(context.Context, string) (float64, bool) { return 90, true }

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *chain.Engine, *clock.Fake) {
	t.Helper()
	ctx := context.Background()
	chains := storage.NewMemoryChainStore()
	lanes := storage.NewMemoryLaneStore()
	orders := storage.NewMemoryOrderStore()
	events := storage.NewMemoryEventStore()
	clk := clock.NewFake(time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC))

	require.NoError(t, orders.Put(ctx, &model.Order{ID: "ord-1", ShipperID: "shipper-1", PickupCity: "Lyon"}))
	registry := cascade.NewRegistry(lanes)
	require.NoError(t, registry.Seed(ctx, []*model.Lane{{
		ID: "lane-1", ShipperID: "shipper-1", Origin: model.GeoCriteria{City: "Lyon"},
		DefaultWindowMinutes: 60, EscalateOnExhaustion: true, Active: true,
		Carriers: []model.LaneCarrier{
			{CarrierID: "c1", Position: 1, Active: true},
			{CarrierID: "c2", Position: 2, Active: true},
		},
	}}))
	builder := cascade.NewBuilder(allScores{}, nopLogger{})
	engine, err := chain.NewEngine(chains, orders, registry, builder, nopNotifier{}, nil, &stubBroker{},
		clk, nopLogger{}, nil, nil)
	require.NoError(t, err)

	if opts.Events == nil {
		opts.Events = events
	}
	srv := httptest.NewServer(NewHandler(engine, opts).Mux())
	t.Cleanup(srv.Close)
	return srv, engine, clk
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestDetectLane(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/dispatch/detect-lane/ord-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["escalated"])
	require.NotNil(t, body["lane"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/dispatch/detect-lane/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAutoAndRespondFlow(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/dispatch/auto/ord-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chainID := body["id"].(string)
	assert.Equal(t, string(model.ChainInProgress), body["status"])

	// First carrier refuses, cascade advances.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/dispatch/respond/"+chainID,
		map[string]any{"carrierId": "c1", "accepted": false, "refusalReason": "busy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["current_index"])

	// Second accepts with a price.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/dispatch/respond/"+chainID,
		map[string]any{"carrierId": "c2", "accepted": true, "proposedPrice": 950})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(model.ChainCompleted), body["status"])
	assert.Equal(t, "c2", body["assigned_carrier"])

	// Status projection reflects the terminal state.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/dispatch/status/ord-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(model.ChainCompleted), body["status"])
}

func TestRespondConflictMapsTo409(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	_, body := doJSON(t, http.MethodPost, srv.URL+"/dispatch/auto/ord-1", nil)
	chainID := body["id"].(string)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/dispatch/respond/"+chainID,
		map[string]any{"carrierId": "c2", "accepted": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/dispatch/respond/"+chainID, map[string]any{"accepted": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateTwiceMapsTo409(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/dispatch/generate-chain/ord-1", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/dispatch/generate-chain/ord-1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdminTimeoutRoute(t *testing.T) {
	srv, _, clk := newTestServer(t, Options{})
	_, body := doJSON(t, http.MethodPost, srv.URL+"/dispatch/auto/ord-1", nil)
	chainID := body["id"].(string)

	clk.Advance(61 * time.Minute)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/dispatch/timeout/"+chainID+"/0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["current_index"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/dispatch/timeout/"+chainID+"/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsRoute(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	doJSON(t, http.MethodPost, srv.URL+"/dispatch/auto/ord-1", nil)

	resp, err := http.Get(srv.URL + "/dispatch/events/ord-1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAffretiaCallbackAlwaysAnswers200(t *testing.T) {
	srv, engine, clk := newTestServer(t, Options{})
	ctx := context.Background()

	_, body := doJSON(t, http.MethodPost, srv.URL+"/dispatch/auto/ord-1", nil)
	chainID := body["id"].(string)
	for i := 0; i < 2; i++ {
		clk.Advance(61 * time.Minute)
		_, err := engine.Timeout(ctx, chainID, i)
		require.NoError(t, err)
	}
	c, err := engine.Status(ctx, "ord-1")
	require.NoError(t, err)
	require.Equal(t, model.ChainEscalated, c.Status)

	payload := map[string]any{
		"affretiaOrderId": c.Escalation.ExternalID,
		"externalOrderId": "ord-1",
		"status":          "matched",
		"carrier":         map[string]any{"id": "spot-1", "price": 1100},
	}
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/dispatch/affretia-callback", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["applied"])

	// The replay is acknowledged but not re-applied.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/dispatch/affretia-callback", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["applied"])

	// A callback for an unknown order still answers 200.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/dispatch/affretia-callback", map[string]any{
		"affretiaOrderId": "aff-x", "externalOrderId": "ghost", "status": "failed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["applied"])
}

func TestCallbackSecret(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{CallbackSecret: "hook-secret"})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/dispatch/affretia-callback",
		bytes.NewReader([]byte(`{"affretiaOrderId":"a","externalOrderId":"o","status":"failed"}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, srv.URL+"/dispatch/affretia-callback",
		bytes.NewReader([]byte(`{"affretiaOrderId":"a","externalOrderId":"o","status":"failed"}`)))
	require.NoError(t, err)
	req.Header.Set("X-Affretia-Secret", "hook-secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBearerTokenAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{Token: "api-token"})

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/dispatch/status/ord-1", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/dispatch/auto/ord-1", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer api-token")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestCarrierStatsRoute(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	_, body := doJSON(t, http.MethodPost, srv.URL+"/dispatch/auto/ord-1", nil)
	chainID := body["id"].(string)

	doJSON(t, http.MethodPost, srv.URL+"/dispatch/respond/"+chainID,
		map[string]any{"carrierId": "c1", "accepted": false, "refusalReason": "busy"})
	doJSON(t, http.MethodPost, srv.URL+"/dispatch/respond/"+chainID,
		map[string]any{"carrierId": "c2", "accepted": true, "proposedPrice": 950})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/dispatch/carrier-stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c1 := body["c1"].(map[string]any)
	c2 := body["c2"].(map[string]any)
	assert.Equal(t, float64(0), c1["success_rate"])
	assert.Equal(t, float64(1), c2["success_rate"])
	assert.Equal(t, float64(1), c2["attempts"])
}

func TestCancelRoute(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	_, body := doJSON(t, http.MethodPost, srv.URL+"/dispatch/auto/ord-1", nil)
	chainID := body["id"].(string)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/dispatch/cancel/"+chainID,
		map[string]any{"reason": "shipper withdrew"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(model.ChainCancelled), body["status"])
}
