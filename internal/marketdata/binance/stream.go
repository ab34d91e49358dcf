package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tradelab/internal/model"
)

const DefaultStreamURL = "wss://stream.binance.com:9443"

// StreamConfig configures the kline stream.
type StreamConfig struct {
	URL               string
	Symbols           []string
	Interval          string
	ReconnectDelay    time.Duration // initial; doubles up to MaxReconnectDelay
	MaxReconnectDelay time.Duration
}

// Stream subscribes to the combined kline stream for a set of symbols and
// emits only closed klines.
type Stream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer
	log    zerolog.Logger

	// OnReconnect is called before each reconnect attempt (optional).
	OnReconnect func()
}

// NewStream creates a stream with defaults applied.
func NewStream(cfg StreamConfig, log zerolog.Logger) *Stream {
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Interval == "" {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	return &Stream{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.With().Str("component", "binance-ws").Logger(),
	}
}

// URL is the combined stream endpoint for the configured symbols.
func (s *Stream) URL() string {
	names := make([]string, len(s.cfg.Symbols))
	for i, sym := range s.cfg.Symbols {
		names[i] = strings.ToLower(sym) + "@kline_" + s.cfg.Interval
	}
	return s.cfg.URL + "/stream?streams=" + strings.Join(names, "/")
}

// Run connects and pushes closed klines into out until ctx is cancelled,
// reconnecting with backoff on failure. out is never closed by Run.
func (s *Stream) Run(ctx context.Context, out chan<- model.BarEvent) error {
	if len(s.cfg.Symbols) == 0 {
		return fmt.Errorf("binance stream: no symbols")
	}
	delay := s.cfg.ReconnectDelay
	for {
		connected, err := s.session(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = s.cfg.ReconnectDelay
		}
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("stream disconnected")
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (s *Stream) session(ctx context.Context, out chan<- model.BarEvent) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	s.log.Info().Strs("symbols", s.cfg.Symbols).Str("interval", s.cfg.Interval).Msg("connected")

	// Unblock ReadMessage on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		ev, closed, err := parseKlineEvent(data)
		if err != nil {
			s.log.Debug().Err(err).Msg("skipping message")
			continue
		}
		if !closed {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

type klineMsg struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Kline  struct {
			OpenTime int64  `json:"t"`
			Open     string `json:"o"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Close    string `json:"c"`
			Volume   string `json:"v"`
			Closed   bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// parseKlineEvent decodes a combined-stream kline message. closed reports
// whether the kline is final.
func parseKlineEvent(data []byte) (model.BarEvent, bool, error) {
	var m klineMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return model.BarEvent{}, false, fmt.Errorf("decode: %w", err)
	}
	if m.Data.Event != "kline" {
		return model.BarEvent{}, false, fmt.Errorf("unexpected event %q", m.Data.Event)
	}
	k := m.Data.Kline
	var f [5]float64
	for i, v := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		n, err := toFloat(v)
		if err != nil {
			return model.BarEvent{}, false, fmt.Errorf("field %d: %w", i, err)
		}
		f[i] = n
	}
	return model.BarEvent{
		Symbol: m.Data.Symbol,
		Bar: model.Bar{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      f[0],
			High:      f[1],
			Low:       f[2],
			Close:     f[3],
			Volume:    f[4],
		},
	}, k.Closed, nil
}
