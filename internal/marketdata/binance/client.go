// Package binance supplies historical klines over the Binance REST API and
// closed klines over the Binance websocket stream.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tradelab/internal/breaker"
	"tradelab/internal/model"
)

const (
	DefaultBaseURL  = "https://api.binance.com"
	DefaultInterval = "1h"
	// MaxLimit is the most klines Binance returns per request.
	MaxLimit = 1000

	klinesPath = "/api/v3/klines"
	maxPages   = 50
)

// Config configures the REST client.
type Config struct {
	BaseURL  string
	Interval string
	Limit    int // per request, capped at MaxLimit

	RatePerSecond float64 // request budget; 0 = 10/s
	Burst         int

	Timeout      time.Duration
	MaxFailures  uint32
	ResetTimeout time.Duration
}

// APIError is a non-200 response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: status %d: %s", e.Status, e.Body)
}

// retryable reports whether the failure says something about the health of
// the upstream (5xx, rate limiting) rather than about the request.
func (e *APIError) retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == 418
}

// Client fetches klines. It implements model.BarSource.
type Client struct {
	http    *http.Client
	cfg     Config
	limiter *rate.Limiter
	br      *breaker.Breaker
	log     zerolog.Logger
}

// NewClient creates a client with defaults applied to zero fields.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Interval == "" {
		cfg.Interval = DefaultInterval
	}
	if cfg.Limit <= 0 || cfg.Limit > MaxLimit {
		cfg.Limit = MaxLimit
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	log = log.With().Str("component", "binance").Logger()
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		br:      breaker.New("binance", cfg.MaxFailures, cfg.ResetTimeout, log),
		log:     log,
	}
}

// Fetch returns the klines inside rng as bars, paging forward from the
// window start until the window end or a short page.
func (c *Client) Fetch(ctx context.Context, symbol string, rng model.RangeSpec) ([]model.Bar, error) {
	interval := rng.Interval
	if interval == "" {
		interval = c.cfg.Interval
	}
	start, end := rng.Window(time.Now())

	var bars []model.Bar
	cursor := start
	for page := 0; page < maxPages && !cursor.After(end); page++ {
		batch, err := c.Klines(ctx, symbol, interval, cursor, end, c.cfg.Limit)
		if err != nil {
			return nil, err
		}
		bars = append(bars, batch...)
		if len(batch) < c.cfg.Limit {
			break
		}
		cursor = batch[len(batch)-1].Timestamp.Add(time.Millisecond)
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("interval", interval).
		Int("bars", len(bars)).
		Msg("fetched klines")
	return bars, nil
}

// Klines issues one /api/v3/klines request.
func (c *Client) Klines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]model.Bar, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	fullURL := c.cfg.BaseURL + klinesPath + "?" + params.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("binance rate limit wait: %w", err)
	}

	var body []byte
	var reqErr error
	err := c.br.Do(func() error {
		body, reqErr = c.get(ctx, fullURL)
		var apiErr *APIError
		if errors.As(reqErr, &apiErr) && !apiErr.retryable() {
			return nil
		}
		return reqErr
	})
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}
	// A rejected request (unknown symbol, bad interval) or an undecodable
	// payload means there is no usable series for this request.
	if reqErr != nil {
		return nil, fmt.Errorf("binance klines %s: %w: %w", symbol, model.ErrDataUnavailable, reqErr)
	}

	bars, err := parseKlines(body)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w: %w", symbol, model.ErrDataUnavailable, err)
	}
	return bars, nil
}

func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &APIError{Status: resp.StatusCode, Body: msg}
	}
	return body, nil
}

// BreakerState reports the circuit breaker state for health checks.
func (c *Client) BreakerState() string { return c.br.State() }

// OnBreakerChange installs a breaker transition hook. Call before use.
func (c *Client) OnBreakerChange(fn func(name, from, to string)) { c.br.OnStateChange = fn }

// parseKlines decodes the kline array format:
// [openTime, open, high, low, close, volume, closeTime, ...]
// Prices arrive as strings, times as numbers.
func parseKlines(body []byte) ([]model.Bar, error) {
	var rows [][]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	bars := make([]model.Bar, 0, len(rows))
	for i, k := range rows {
		if len(k) < 6 {
			return nil, fmt.Errorf("kline %d: %d fields", i, len(k))
		}
		var f [6]float64
		for j := 0; j < 6; j++ {
			v, err := toFloat(k[j])
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j, err)
			}
			f[j] = v
		}
		bars = append(bars, model.Bar{
			Timestamp: time.UnixMilli(int64(f[0])).UTC(),
			Open:      f[1],
			High:      f[2],
			Low:       f[3],
			Close:     f[4],
			Volume:    f[5],
		})
	}
	return bars, nil
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(t, 64)
	case json.Number:
		return t.Float64()
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
