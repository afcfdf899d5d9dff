package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/instrument"
	"github.com/rs/zerolog/log"
)

// OKXMapper decodes OKX v5 public channel payloads: "trades" and
// "funding-rate". Trade sizes convert to base units through
// instrument.QtyToBase, using the quote kind the instrument registry
// holds for the instId.
type OKXMapper struct{}

func (OKXMapper) Exchange() string { return "okx" }

type okxEnvelope struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []json.RawMessage `json:"data"`
}

type okxTrade struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

type okxFundingRate struct {
	InstID      string `json:"instId"`
	FundingRate string `json:"fundingRate"`
	FundingTime string `json:"fundingTime"`
	Ts          string `json:"ts"`
}

func (m OKXMapper) Map(ctx MapCtx, kind StreamKind, raw []byte) (Rows, int, error) {
	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Data == nil {
		return Rows{}, 0, apperr.New(apperr.KindDecode, "OKXMapper.Map", fmt.Errorf("malformed envelope: %w", err))
	}

	switch kind {
	case KindTrades:
		rows := make([]TradeRow, 0, len(env.Data))
		dropped := 0
		for _, raw := range env.Data {
			var t okxTrade
			if err := json.Unmarshal(raw, &t); err != nil {
				dropped++
				continue
			}
			row, err := m.mapTrade(ctx, t)
			if err != nil {
				log.Warn().Err(err).Str("exchange", "okx").Str("symbol", t.InstID).Msg("dropping trade row")
				dropped++
				continue
			}
			rows = append(rows, row)
		}
		return Rows{Kind: kind, Trades: rows}, dropped, nil

	case KindFunding:
		rows := make([]FundingRow, 0, len(env.Data))
		dropped := 0
		for _, raw := range env.Data {
			var f okxFundingRate
			if err := json.Unmarshal(raw, &f); err != nil {
				dropped++
				continue
			}
			row, err := m.mapFunding(ctx, f)
			if err != nil {
				dropped++
				continue
			}
			rows = append(rows, row)
		}
		return Rows{Kind: kind, Funding: rows}, dropped, nil

	default:
		return Rows{}, 0, apperr.New(apperr.KindDecode, "OKXMapper.Map", fmt.Errorf("unsupported stream kind %q for okx", kind))
	}
}

func (m OKXMapper) mapTrade(ctx MapCtx, t okxTrade) (TradeRow, error) {
	spec, err := ctx.Registry.MustGet("okx", t.InstID)
	if err != nil {
		return TradeRow{}, err
	}
	price, err := instrument.ParseDecimal(t.Px)
	if err != nil {
		return TradeRow{}, err
	}
	priceI, err := instrument.ScaleDecimal(price, ctx.Scales.Price)
	if err != nil {
		return TradeRow{}, err
	}
	base, err := instrument.QtyToBase(t.Sz, t.Px, spec)
	if err != nil {
		return TradeRow{}, err
	}
	qtyI, err := instrument.ScaleDecimal(base, ctx.Scales.Qty)
	if err != nil {
		return TradeRow{}, err
	}
	ms, err := strconv.ParseInt(t.Ts, 10, 64)
	if err != nil {
		return TradeRow{}, apperr.New(apperr.KindMapping, "OKXMapper.mapTrade", err)
	}
	tradeID := t.TradeID
	return TradeRow{
		Time:    msToTime(ms),
		Symbol:  t.InstID,
		Side:    NormalizeSide(t.Side),
		PriceI:  priceI,
		QtyI:    qtyI,
		TradeID: &tradeID,
	}, nil
}

func (m OKXMapper) mapFunding(ctx MapCtx, f okxFundingRate) (FundingRow, error) {
	rate, err := instrument.ParseDecimal(f.FundingRate)
	if err != nil {
		return FundingRow{}, err
	}
	rateI, err := instrument.ScaleDecimal(rate, ctx.Scales.Funding)
	if err != nil {
		return FundingRow{}, err
	}
	ms, err := strconv.ParseInt(f.Ts, 10, 64)
	if err != nil {
		return FundingRow{}, apperr.New(apperr.KindMapping, "OKXMapper.mapFunding", err)
	}
	var fundingTime *int64
	if f.FundingTime != "" {
		v, err := strconv.ParseInt(f.FundingTime, 10, 64)
		if err == nil {
			fundingTime = &v
		}
	}
	row := FundingRow{Time: msToTime(ms), Symbol: f.InstID, FundingRateI: rateI}
	if fundingTime != nil {
		t := msToTime(*fundingTime)
		row.FundingTime = &t
	}
	return row, nil
}
