package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/model"
)

func TestMetrics_RegistersOnSuppliedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	// A second registration of the same collectors must fail on this registry only.
	assert.Panics(t, func() { New(reg) })
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

func TestMetrics_Observers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePrediction(model.ActionBuy, "model")
	m.ObservePrediction(model.ActionBuy, "model")
	m.ObservePrediction(model.ActionHold, "fallback")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("BUY", "model")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("HOLD", "fallback")))

	m.ObserveTraining("success", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelTrained))
	m.ObserveTraining("no_data", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ModelTrained))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainingRunsTotal.WithLabelValues("no_data")))

	m.ObserveCache("hit")
	m.ObserveCache("miss")
	m.ObserveCache("miss")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")))

	m.ObserveFetch("binance", 150*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.FetchDuration))
}

func TestMetrics_ObserveBacktest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	res := model.BacktestResult{Trades: []model.Trade{
		{Side: model.ActionBuy}, {Side: model.ActionSell}, {Side: model.ActionBuy},
	}}
	m.ObserveBacktest("technical", "ok", time.Second, res)
	m.ObserveBacktest("technical", "no_data", time.Millisecond, model.BacktestResult{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BacktestsTotal.WithLabelValues("technical", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BacktestTrades.WithLabelValues("BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BacktestTrades.WithLabelValues("SELL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DataUnavailable))
}

func TestMetrics_ObserveSignalAndBreaker(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSignal(model.ActionSell)
	m.ObserveSignal(model.ActionHold)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LiveBarsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveSignalsTotal.WithLabelValues("SELL")))

	m.ObserveBreaker("redis", "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("redis")))
	m.ObserveBreaker("redis", "half-open")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("redis")))
	m.ObserveBreaker("redis", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("redis")))
}

func healthz(t *testing.T, h *HealthStatus) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthStatus_States(t *testing.T) {
	h := NewHealthStatus(true, false)

	code, body := healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	h.mu.Lock()
	h.SQLiteOK = true
	h.mu.Unlock()
	code, body = healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"], "redis enabled but not connected")

	h.mu.Lock()
	h.RedisConnected = true
	h.mu.Unlock()
	h.SetModelTrained(true)
	code, body = healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["model_trained"])
}
