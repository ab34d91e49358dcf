package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/model"
)

func klineEvent(symbol string, ts time.Time, close float64, final bool) string {
	return fmt.Sprintf(`{"stream":"%s@kline_1h","data":{"e":"kline","E":%d,"s":"%s","k":{"t":%d,"T":%d,"s":"%s","i":"1h","o":"%.2f","c":"%.2f","h":"%.2f","l":"%.2f","v":"3.5","x":%t}}}`,
		strings.ToLower(symbol), ts.UnixMilli(), symbol, ts.UnixMilli(), ts.UnixMilli()+3599999, symbol,
		close-1, close, close+1, close-2, final)
}

func TestParseKlineEvent(t *testing.T) {
	ev, closed, err := parseKlineEvent([]byte(klineEvent("BTCUSDT", t0, 100, true)))
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, model.BarEvent{
		Symbol: "BTCUSDT",
		Bar:    model.Bar{Timestamp: t0, Open: 99, High: 101, Low: 98, Close: 100, Volume: 3.5},
	}, ev)

	_, closed, err = parseKlineEvent([]byte(klineEvent("BTCUSDT", t0, 100, false)))
	require.NoError(t, err)
	assert.False(t, closed)

	_, _, err = parseKlineEvent([]byte(`{"result":null,"id":1}`))
	assert.Error(t, err)
}

func TestStream_URL(t *testing.T) {
	s := NewStream(StreamConfig{URL: "ws://x/", Symbols: []string{"BTCUSDT", "ethusdt"}}, zerolog.Nop())
	assert.Equal(t, "ws://x/stream?streams=btcusdt@kline_1h/ethusdt@kline_1h", s.URL())
}

// wsServer sends each script to one connection, then closes it.
func wsServer(t *testing.T, scripts ...[]string) (*httptest.Server, *int32) {
	t.Helper()
	var conns int32
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&conns, 1)) - 1
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		if n >= len(scripts) {
			// Hold the last connection open until the client goes away.
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}
		for _, msg := range scripts[n] {
			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func TestStream_EmitsClosedKlinesAcrossReconnects(t *testing.T) {
	srv, conns := wsServer(t,
		[]string{
			klineEvent("BTCUSDT", t0, 100, false),
			klineEvent("BTCUSDT", t0, 101, true),
			`{"result":null,"id":1}`,
		},
		[]string{
			klineEvent("ETHUSDT", t0.Add(time.Hour), 50, true),
		},
	)

	var reconnects int32
	s := NewStream(StreamConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols:        []string{"BTCUSDT", "ETHUSDT"},
		ReconnectDelay: 10 * time.Millisecond,
	}, zerolog.Nop())
	s.OnReconnect = func() { atomic.AddInt32(&reconnects, 1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.BarEvent, 4)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, out) }()

	var got []model.BarEvent
	for len(got) < 2 {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %d events", len(got))
		}
	}

	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, 101.0, got[0].Bar.Close)
	assert.Equal(t, "ETHUSDT", got[1].Symbol)
	assert.Equal(t, t0.Add(time.Hour), got[1].Bar.Timestamp)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&reconnects), int32(1))
	assert.GreaterOrEqual(t, atomic.LoadInt32(conns), int32(2))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStream_RequiresSymbols(t *testing.T) {
	s := NewStream(StreamConfig{}, zerolog.Nop())
	assert.Error(t, s.Run(context.Background(), make(chan model.BarEvent)))
}
