package model

import "time"

// Position is the single long position a backtest may hold.
// EntryPrice, EntryTimestamp and Quantity are meaningless while Open is false.
type Position struct {
	Open           bool      `json:"open"`
	EntryPrice     float64   `json:"entry_price"`
	EntryTimestamp time.Time `json:"entry_timestamp"`
	Quantity       int64     `json:"quantity"`
}

// UnrealizedPnL values the open position at price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if !p.Open {
		return 0
	}
	return (price - p.EntryPrice) * float64(p.Quantity)
}

// Trade is one fill in a backtest trade log. BUY trades always carry PnL 0;
// realized PnL is attributed to the closing SELL.
type Trade struct {
	Timestamp time.Time `json:"timestamp"`
	Side      Action    `json:"side"`
	Price     float64   `json:"price"`
	Quantity  int64     `json:"quantity"`
	PnL       float64   `json:"pnl"`
	Reason    string    `json:"reason"`
}

// EquityPoint is the realized capital and drawdown after one bar.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Capital   float64   `json:"capital"`
	Drawdown  float64   `json:"drawdown"`
}

// BacktestResult summarises one backtest run.
type BacktestResult struct {
	TotalReturn    float64 `json:"total_return"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	ProfitFactor   float64 `json:"profit_factor"`
	AvgTradeReturn float64 `json:"avg_trade_return"`
	Trades         []Trade `json:"trades"`

	InitialCapital float64       `json:"initial_capital"`
	FinalCapital   float64       `json:"final_capital"`
	EquityCurve    []EquityPoint `json:"equity_curve,omitempty"`
}
