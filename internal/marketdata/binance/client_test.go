package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/breaker"
	"tradelab/internal/model"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func klineRow(ts time.Time, close float64) string {
	ms := ts.UnixMilli()
	return fmt.Sprintf(`[%d,"%.2f","%.2f","%.2f","%.2f","12.5",%d,"0",10,"0","0","0"]`,
		ms, close-1, close+1, close-2, close, ms+3599999)
}

func TestParseKlines(t *testing.T) {
	body := "[" + klineRow(t0, 100) + "," + klineRow(t0.Add(time.Hour), 101.5) + "]"

	bars, err := parseKlines([]byte(body))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, model.Bar{Timestamp: t0, Open: 99, High: 101, Low: 98, Close: 100, Volume: 12.5}, bars[0])
	assert.Equal(t, t0.Add(time.Hour), bars[1].Timestamp)
}

func TestParseKlines_Malformed(t *testing.T) {
	_, err := parseKlines([]byte(`[[1,"2"]]`))
	assert.Error(t, err)

	_, err = parseKlines([]byte(`[[1,"x","1","1","1","1"]]`))
	assert.Error(t, err)

	_, err = parseKlines([]byte(`{"code":-1121}`))
	assert.Error(t, err)
}

func TestClient_FetchSendsWindow(t *testing.T) {
	end := t0.Add(48 * time.Hour)
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, klinesPath, r.URL.Path)
		q := r.URL.Query()
		got = map[string]string{
			"symbol":    q.Get("symbol"),
			"interval":  q.Get("interval"),
			"limit":     q.Get("limit"),
			"startTime": q.Get("startTime"),
			"endTime":   q.Get("endTime"),
		}
		fmt.Fprint(w, "["+klineRow(t0.Add(24*time.Hour), 100)+"]")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop())
	bars, err := c.Fetch(context.Background(), "btcusdt", model.RangeSpec{Days: 2, End: end})
	require.NoError(t, err)
	require.Len(t, bars, 1)

	assert.Equal(t, map[string]string{
		"symbol":    "BTCUSDT",
		"interval":  "1h",
		"limit":     "1000",
		"startTime": strconv.FormatInt(t0.UnixMilli(), 10),
		"endTime":   strconv.FormatInt(end.UnixMilli(), 10),
	}, got)
}

func TestClient_FetchPaginates(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		startMs, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		start := time.UnixMilli(startMs).UTC()
		switch {
		case start.Equal(t0):
			fmt.Fprint(w, "["+klineRow(t0, 1)+","+klineRow(t0.Add(time.Hour), 2)+"]")
		case start.Equal(t0.Add(time.Hour + time.Millisecond)):
			fmt.Fprint(w, "["+klineRow(t0.Add(2*time.Hour), 3)+"]")
		default:
			http.Error(w, "unexpected start", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Limit: 2, RatePerSecond: 1000}, zerolog.Nop())
	bars, err := c.Fetch(context.Background(), "ETHUSDT", model.RangeSpec{Days: 1, End: t0.Add(24 * time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, bars, 3)
	assert.Equal(t, []float64{1, 2, 3}, model.Closes(bars))
}

func TestClient_ClientErrorDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MaxFailures: 1, RatePerSecond: 1000}, zerolog.Nop())
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "NOPE", model.RangeSpec{Days: 1})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		assert.ErrorIs(t, err, model.ErrDataUnavailable)
	}
	assert.Equal(t, "closed", c.BreakerState())
}

func TestClient_MalformedPayloadIsDataUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[1700000000000,"abc","1","1","1","1"]]`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RatePerSecond: 1000}, zerolog.Nop())
	_, err := c.Fetch(context.Background(), "BTCUSDT", model.RangeSpec{Days: 1})
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
	assert.Equal(t, "closed", c.BreakerState())
}

func TestClient_ServerErrorsTripBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MaxFailures: 2, ResetTimeout: time.Minute, RatePerSecond: 1000}, zerolog.Nop())
	for i := 0; i < 2; i++ {
		_, err := c.Fetch(context.Background(), "BTCUSDT", model.RangeSpec{Days: 1})
		require.Error(t, err)
	}

	_, err := c.Fetch(context.Background(), "BTCUSDT", model.RangeSpec{Days: 1})
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.NotErrorIs(t, err, model.ErrDataUnavailable, "an upstream outage is not missing data")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "BTCUSDT", model.RangeSpec{Days: 1})
	assert.ErrorIs(t, err, context.Canceled)
}
