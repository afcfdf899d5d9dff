package config

import (
	"fmt"
	"os"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/instrument"
	"gopkg.in/yaml.v3"
)

// InstrumentEntry is one YAML-declared (exchange, symbol) instrument;
// ContractSize/PriceTick/SizeStep are decimal strings so they load
// through instrument.ParseDecimal with no float round-trip.
type InstrumentEntry struct {
	Exchange     string `yaml:"exchange"`
	Symbol       string `yaml:"symbol"`
	BaseAsset    string `yaml:"base_asset"`
	QuoteAsset   string `yaml:"quote_asset"`
	QuoteKind    string `yaml:"quote_kind"`
	ContractSize string `yaml:"contract_size"`
	PriceTick    string `yaml:"price_tick"`
	SizeStep     string `yaml:"size_step"`
	IsPerpetual  bool   `yaml:"is_perpetual"`
}

// InstrumentsConfig is the full per-(exchange,symbol) instrument
// metadata set loaded at startup into instrument.Registry.
type InstrumentsConfig struct {
	Instruments []InstrumentEntry `yaml:"instruments"`
}

func LoadInstrumentsConfig(path string) (*InstrumentsConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.KindConfig, "config.LoadInstrumentsConfig", err)
	}
	var c InstrumentsConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, apperr.New(apperr.KindConfig, "config.LoadInstrumentsConfig", err)
	}
	return &c, nil
}

// ToSpecs converts every entry to an instrument.Spec, parsing its
// decimal fields exactly via instrument.ParseDecimal.
func (c InstrumentsConfig) ToSpecs() ([]instrument.Spec, error) {
	specs := make([]instrument.Spec, 0, len(c.Instruments))
	for _, e := range c.Instruments {
		spec := instrument.Spec{
			Exchange:    e.Exchange,
			Symbol:      e.Symbol,
			BaseAsset:   e.BaseAsset,
			QuoteAsset:  e.QuoteAsset,
			QuoteKind:   instrument.QuoteKind(e.QuoteKind),
			IsPerpetual: e.IsPerpetual,
		}
		if e.PriceTick != "" {
			v, err := instrument.ParseDecimal(e.PriceTick)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: price_tick: %w", e.Exchange, e.Symbol, err)
			}
			spec.PriceTick = v
		}
		if e.SizeStep != "" {
			v, err := instrument.ParseDecimal(e.SizeStep)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: size_step: %w", e.Exchange, e.Symbol, err)
			}
			spec.SizeStep = v
		}
		if e.ContractSize != "" {
			v, err := instrument.ParseDecimal(e.ContractSize)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: contract_size: %w", e.Exchange, e.Symbol, err)
			}
			spec.ContractSize = v
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
