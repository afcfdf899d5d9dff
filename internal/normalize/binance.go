package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/instrument"
	"github.com/rs/zerolog/log"
)

// BinanceMapper decodes Binance combined-stream USD-M futures
// payloads (aggTrade, depthUpdate) into canonical rows.
type BinanceMapper struct{}

func (BinanceMapper) Exchange() string { return "binance" }

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceAggTrade struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"a"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
	IsBuyer   bool   `json:"m"` // true if buyer is the market maker
}

type binanceDepthUpdate struct {
	EventType string     `json:"e"`
	Symbol    string     `json:"s"`
	EventTime int64      `json:"E"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

func (m BinanceMapper) Map(ctx MapCtx, kind StreamKind, raw []byte) (Rows, int, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		return Rows{}, 0, apperr.New(apperr.KindDecode, "BinanceMapper.Map", fmt.Errorf("malformed envelope: %w", err))
	}

	switch kind {
	case KindTrades:
		var t binanceAggTrade
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return Rows{}, 0, apperr.New(apperr.KindDecode, "BinanceMapper.Map", err)
		}
		row, err := m.mapTrade(ctx, t)
		if err != nil {
			log.Warn().Err(err).Str("exchange", "binance").Str("symbol", t.Symbol).Msg("dropping trade row")
			return Rows{Kind: kind}, 1, nil
		}
		return Rows{Kind: kind, Trades: []TradeRow{row}}, 0, nil

	case KindDepth:
		var d binanceDepthUpdate
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Rows{}, 0, apperr.New(apperr.KindDecode, "BinanceMapper.Map", err)
		}
		rows, dropped := m.mapDepth(ctx, d)
		return Rows{Kind: kind, Depth: rows}, dropped, nil

	default:
		return Rows{}, 0, apperr.New(apperr.KindDecode, "BinanceMapper.Map", fmt.Errorf("unsupported stream kind %q for binance", kind))
	}
}

func (m BinanceMapper) mapTrade(ctx MapCtx, t binanceAggTrade) (TradeRow, error) {
	spec, err := ctx.Registry.MustGet("binance", t.Symbol)
	if err != nil {
		return TradeRow{}, err
	}
	price, err := instrument.ParseDecimal(t.Price)
	if err != nil {
		return TradeRow{}, err
	}
	priceI, err := instrument.ScaleDecimal(price, ctx.Scales.Price)
	if err != nil {
		return TradeRow{}, err
	}
	base, err := instrument.QtyToBase(t.Qty, t.Price, spec)
	if err != nil {
		return TradeRow{}, err
	}
	qtyI, err := instrument.ScaleDecimal(base, ctx.Scales.Qty)
	if err != nil {
		return TradeRow{}, err
	}
	// Binance's "m" is true when the buyer is the maker, i.e. the
	// taker (the side that crossed the spread) sold.
	side := SideBuy
	if t.IsBuyer {
		side = SideSell
	}
	tradeID := fmt.Sprintf("%d", t.TradeID)
	return TradeRow{
		Time:    msToTime(t.TradeTime),
		Symbol:  t.Symbol,
		Side:    side,
		PriceI:  priceI,
		QtyI:    qtyI,
		TradeID: &tradeID,
	}, nil
}

func (m BinanceMapper) mapDepth(ctx MapCtx, d binanceDepthUpdate) ([]DepthDeltaRow, int) {
	rows := make([]DepthDeltaRow, 0, len(d.Bids)+len(d.Asks))
	dropped := 0
	ts := msToTime(d.EventTime)
	spec, err := ctx.Registry.MustGet("binance", d.Symbol)
	if err != nil {
		return nil, len(d.Bids) + len(d.Asks)
	}
	add := func(levels [][]string, side DepthSide) {
		for _, lvl := range levels {
			if len(lvl) != 2 {
				dropped++
				continue
			}
			price, err := instrument.ParseDecimal(lvl[0])
			if err != nil {
				dropped++
				continue
			}
			priceI, err := instrument.ScaleDecimal(price, ctx.Scales.Price)
			if err != nil {
				dropped++
				continue
			}
			base, err := instrument.QtyToBase(lvl[1], lvl[0], spec)
			if err != nil {
				dropped++
				continue
			}
			qtyI, err := instrument.ScaleDecimal(base, ctx.Scales.Qty)
			if err != nil {
				dropped++
				continue
			}
			rows = append(rows, DepthDeltaRow{Time: ts, Symbol: d.Symbol, Side: side, PriceI: priceI, QtyI: qtyI})
		}
	}
	add(d.Bids, DepthBid)
	add(d.Asks, DepthAsk)
	return rows, dropped
}
