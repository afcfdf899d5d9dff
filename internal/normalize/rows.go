// Package normalize converts raw, exchange-specific push-feed
// payloads into the canonical fixed-point row types every sink
// downstream of the ingest pipeline consumes.
package normalize

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type DepthSide string

const (
	DepthBid DepthSide = "bid"
	DepthAsk DepthSide = "ask"
)

// TradeRow is one executed trade, fixed-point.
type TradeRow struct {
	Time    time.Time
	Symbol  string
	Side    Side
	PriceI  int64
	QtyI    int64
	TradeID *string
	IsMaker *bool
}

// DepthDeltaRow is one order-book level update; QtyI == 0 is the
// canonical delete-this-level marker.
type DepthDeltaRow struct {
	Time     time.Time
	Symbol   string
	Side     DepthSide
	PriceI   int64
	QtyI     int64
	Sequence *int64
}

// OpenInterestRow is a point-in-time open interest reading.
type OpenInterestRow struct {
	Time   time.Time
	Symbol string
	OII    int64
}

// FundingRow is a funding-rate observation.
type FundingRow struct {
	Time           time.Time
	Symbol         string
	FundingRateI   int64
	FundingTime    *time.Time
}

// LiquidationRow is a single forced-liquidation fill.
type LiquidationRow struct {
	Time    time.Time
	Symbol  string
	Side    Side
	PriceI  *int64
	QtyI    int64
	LiqID   *string
}

// StreamKind enumerates the five canonical row families; it doubles
// as the batch-key component and the primary-store table suffix.
type StreamKind string

const (
	KindTrades          StreamKind = "trades"
	KindDepth           StreamKind = "depth"
	KindOpenInterest    StreamKind = "open_interest"
	KindFunding         StreamKind = "funding"
	KindLiquidations    StreamKind = "liquidations"
)

// Rows is a heterogeneous-free, single-kind batch of canonical rows
// produced by one mapper invocation; exactly one of the slices is
// populated, matching the Kind the mapper was invoked for.
type Rows struct {
	Kind         StreamKind
	Trades       []TradeRow
	Depth        []DepthDeltaRow
	OpenInterest []OpenInterestRow
	Funding      []FundingRow
	Liquidations []LiquidationRow
}

func (r Rows) Len() int {
	switch r.Kind {
	case KindTrades:
		return len(r.Trades)
	case KindDepth:
		return len(r.Depth)
	case KindOpenInterest:
		return len(r.OpenInterest)
	case KindFunding:
		return len(r.Funding)
	case KindLiquidations:
		return len(r.Liquidations)
	default:
		return 0
	}
}

// NormalizeSide maps the explicit per-mapper string forms to the
// canonical Side; never heuristic across venues: only "B"/"BUY"/"buy"
// map to buy, everything else is sell.
func NormalizeSide(raw string) Side {
	switch raw {
	case "B", "BUY", "buy":
		return SideBuy
	default:
		return SideSell
	}
}

// sideCode encodes the canonical Side as the small integer the
// primary store persists (0=buy, 1=sell).
func sideCode(s Side) int16 {
	if s == SideBuy {
		return 0
	}
	return 1
}

func depthSideCode(s DepthSide) int16 {
	if s == DepthBid {
		return 0
	}
	return 1
}

// The methods below let each canonical row type satisfy
// writer.RowTable by structural typing: table name, column order,
// and bind values are declared on the row type itself, never
// interpolated from caller-supplied strings.

func (TradeRow) Columns() []string {
	return []string{"time", "symbol", "side", "price_i", "qty_i", "trade_id", "is_maker"}
}

func (TradeRow) Table(exchange string) string { return "ex_" + exchange + ".trades" }

func (r TradeRow) Values() []any {
	return []any{r.Time, r.Symbol, sideCode(r.Side), r.PriceI, r.QtyI, r.TradeID, r.IsMaker}
}

func (DepthDeltaRow) Columns() []string {
	return []string{"time", "symbol", "side", "price_i", "size_i", "seq"}
}

func (DepthDeltaRow) Table(exchange string) string { return "ex_" + exchange + ".depth" }

func (r DepthDeltaRow) Values() []any {
	return []any{r.Time, r.Symbol, depthSideCode(r.Side), r.PriceI, r.QtyI, r.Sequence}
}

func (OpenInterestRow) Columns() []string { return []string{"time", "symbol", "oi_i"} }

func (OpenInterestRow) Table(exchange string) string { return "ex_" + exchange + ".open_interest" }

func (r OpenInterestRow) Values() []any { return []any{r.Time, r.Symbol, r.OII} }

func (FundingRow) Columns() []string {
	return []string{"time", "symbol", "funding_rate", "funding_time"}
}

func (FundingRow) Table(exchange string) string { return "ex_" + exchange + ".funding" }

func (r FundingRow) Values() []any {
	return []any{r.Time, r.Symbol, r.FundingRateI, r.FundingTime}
}

func (LiquidationRow) Columns() []string {
	return []string{"time", "symbol", "side", "price_i", "qty_i", "liq_id"}
}

func (LiquidationRow) Table(exchange string) string { return "ex_" + exchange + ".liquidations" }

func (r LiquidationRow) Values() []any {
	return []any{r.Time, r.Symbol, sideCode(r.Side), r.PriceI, r.QtyI, r.LiqID}
}
