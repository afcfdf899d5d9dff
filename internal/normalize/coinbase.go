package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/instrument"
	"github.com/rs/zerolog/log"
)

// CoinbaseMapper decodes Coinbase International Exchange perpetual
// "match" (trade) and "liquidation" channel payloads.
type CoinbaseMapper struct{}

func (CoinbaseMapper) Exchange() string { return "coinbase" }

type coinbaseMatch struct {
	Type      string    `json:"type"`
	TradeID   string    `json:"trade_id"`
	ProductID string    `json:"product_id"`
	Price     string    `json:"price"`
	Size      string    `json:"size"`
	Side      string    `json:"side"` // taker side: "buy" | "sell"
	Time      time.Time `json:"time"`
}

type coinbaseLiquidation struct {
	Type      string    `json:"type"`
	LiqID     string    `json:"liquidation_id"`
	ProductID string    `json:"product_id"`
	Price     string    `json:"price"`
	Size      string    `json:"size"`
	Side      string    `json:"side"`
	Time      time.Time `json:"time"`
}

func (m CoinbaseMapper) Map(ctx MapCtx, kind StreamKind, raw []byte) (Rows, int, error) {
	switch kind {
	case KindTrades:
		var t coinbaseMatch
		if err := json.Unmarshal(raw, &t); err != nil {
			return Rows{}, 0, apperr.New(apperr.KindDecode, "CoinbaseMapper.Map", err)
		}
		row, err := m.mapTrade(ctx, t)
		if err != nil {
			log.Warn().Err(err).Str("exchange", "coinbase").Str("symbol", t.ProductID).Msg("dropping trade row")
			return Rows{Kind: kind}, 1, nil
		}
		return Rows{Kind: kind, Trades: []TradeRow{row}}, 0, nil

	case KindLiquidations:
		var l coinbaseLiquidation
		if err := json.Unmarshal(raw, &l); err != nil {
			return Rows{}, 0, apperr.New(apperr.KindDecode, "CoinbaseMapper.Map", err)
		}
		row, err := m.mapLiquidation(ctx, l)
		if err != nil {
			log.Warn().Err(err).Str("exchange", "coinbase").Str("symbol", l.ProductID).Msg("dropping liquidation row")
			return Rows{Kind: kind}, 1, nil
		}
		return Rows{Kind: kind, Liquidations: []LiquidationRow{row}}, 0, nil

	default:
		return Rows{}, 0, apperr.New(apperr.KindDecode, "CoinbaseMapper.Map", fmt.Errorf("unsupported stream kind %q for coinbase", kind))
	}
}

func (m CoinbaseMapper) mapTrade(ctx MapCtx, t coinbaseMatch) (TradeRow, error) {
	spec, err := ctx.Registry.MustGet("coinbase", t.ProductID)
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
	base, err := instrument.QtyToBase(t.Size, t.Price, spec)
	if err != nil {
		return TradeRow{}, err
	}
	qtyI, err := instrument.ScaleDecimal(base, ctx.Scales.Qty)
	if err != nil {
		return TradeRow{}, err
	}
	tradeID := t.TradeID
	return TradeRow{
		Time:    t.Time.UTC(),
		Symbol:  t.ProductID,
		Side:    NormalizeSide(t.Side),
		PriceI:  priceI,
		QtyI:    qtyI,
		TradeID: &tradeID,
	}, nil
}

func (m CoinbaseMapper) mapLiquidation(ctx MapCtx, l coinbaseLiquidation) (LiquidationRow, error) {
	spec, err := ctx.Registry.MustGet("coinbase", l.ProductID)
	if err != nil {
		return LiquidationRow{}, err
	}
	var priceI *int64
	if l.Price != "" {
		price, err := instrument.ParseDecimal(l.Price)
		if err != nil {
			return LiquidationRow{}, err
		}
		v, err := instrument.ScaleDecimal(price, ctx.Scales.Price)
		if err != nil {
			return LiquidationRow{}, err
		}
		priceI = &v
	}
	base, err := instrument.QtyToBase(l.Size, l.Price, spec)
	if err != nil {
		return LiquidationRow{}, err
	}
	qtyI, err := instrument.ScaleDecimal(base, ctx.Scales.Qty)
	if err != nil {
		return LiquidationRow{}, err
	}
	liqID := l.LiqID
	return LiquidationRow{
		Time:   l.Time.UTC(),
		Symbol: l.ProductID,
		Side:   NormalizeSide(l.Side),
		PriceI: priceI,
		QtyI:   qtyI,
		LiqID:  &liqID,
	}, nil
}
