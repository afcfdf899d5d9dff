// Package instrument holds the per-(exchange,symbol) instrument
// registry and the exact decimal<->fixed-point integer conversions
// every canonical row depends on.
package instrument

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/feedmesh/ingestd/internal/apperr"
)

// QuoteKind describes how an exchange reports traded size.
type QuoteKind string

const (
	QuoteLinear   QuoteKind = "linear-quote"
	QuoteInverse  QuoteKind = "inverse-base"
	QuoteContract QuoteKind = "contract-units"
)

// Spec is the immutable metadata for one (exchange, symbol) pair.
type Spec struct {
	Exchange     string
	Symbol       string
	BaseAsset    string
	QuoteAsset   string
	QuoteKind    QuoteKind
	ContractSize *big.Rat // only meaningful when QuoteKind == QuoteContract
	PriceTick    *big.Rat
	SizeStep     *big.Rat
	IsPerpetual  bool
}

func key(exchange, symbol string) string { return exchange + "\x00" + symbol }

// Registry is a process-wide, read-mostly map of instrument specs. It
// is immutable after Load and safe for concurrent reads; Load itself
// is not meant to run concurrently with lookups.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Load replaces the registry contents. Fails closed: any entry with
// QuoteKind contract-units and a non-positive ContractSize is
// rejected and the whole load is aborted.
func (r *Registry) Load(specs []Spec) error {
	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		if s.QuoteKind == QuoteContract {
			if s.ContractSize == nil || s.ContractSize.Sign() <= 0 {
				return apperr.New(apperr.KindConfig, "instrument.Load",
					fmt.Errorf("%s/%s: contract_size must be > 0 for contract-units quote kind", s.Exchange, s.Symbol))
			}
		}
		m[key(s.Exchange, s.Symbol)] = s
	}
	r.mu.Lock()
	r.specs = m
	r.mu.Unlock()
	return nil
}

// Get looks up a spec; ok is false if unknown.
func (r *Registry) Get(exchange, symbol string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[key(exchange, symbol)]
	return s, ok
}

// MustGet is Get but returns apperr.ErrUnknownInstrument on miss,
// for callers (mappers) that treat an unknown instrument as a local,
// per-row mapping error.
func (r *Registry) MustGet(exchange, symbol string) (Spec, error) {
	s, ok := r.Get(exchange, symbol)
	if !ok {
		return Spec{}, apperr.New(apperr.KindMapping, "instrument.MustGet",
			fmt.Errorf("%w: %s/%s", apperr.ErrUnknownInstrument, exchange, symbol))
	}
	return s, nil
}

// Scales are the four process-wide fixed-point scales; each must be
// an exact positive power of ten.
type Scales struct {
	Price         int64
	Qty           int64
	OpenInterest  int64
	Funding       int64
}

// IsPowerOfTen reports whether n is an exact positive power of ten.
// is_power_of_ten(1) == true; is_power_of_ten(0) == false;
// is_power_of_ten(-10) == false.
func IsPowerOfTen(n int64) bool {
	if n <= 0 {
		return false
	}
	for n%10 == 0 {
		n /= 10
	}
	return n == 1
}

func (s Scales) Validate() error {
	for name, v := range map[string]int64{
		"price_scale": s.Price, "qty_scale": s.Qty,
		"open_interest_scale": s.OpenInterest, "funding_scale": s.Funding,
	} {
		if !IsPowerOfTen(v) {
			return apperr.New(apperr.KindConfig, "Scales.Validate",
				fmt.Errorf("%s=%d must be a power of 10", name, v))
		}
	}
	return nil
}

// ScaleDecimal computes decimal * scale as an exact integer. When the
// product is not an integer it fails with precision loss (no silent
// truncation), except when the fractional part is exactly one half,
// which rounds to even (banker's rounding). decimal is a *big.Rat to
// keep the conversion exact.
func ScaleDecimal(decimal *big.Rat, scale int64) (int64, error) {
	if decimal == nil {
		return 0, apperr.New(apperr.KindMapping, "ScaleDecimal", apperr.ErrBadDecimal)
	}
	if !IsPowerOfTen(scale) {
		return 0, apperr.New(apperr.KindConfig, "ScaleDecimal", fmt.Errorf("scale=%d is not a power of 10", scale))
	}
	scaled := new(big.Rat).Mul(decimal, new(big.Rat).SetInt64(scale))
	num := new(big.Int).Set(scaled.Num())
	den := new(big.Int).Set(scaled.Denom())
	if den.Cmp(big.NewInt(1)) == 0 {
		return num.Int64(), nil
	}

	// Not an exact integer at this scale: decimal has more fractional
	// digits than scale permits. Round-half-to-even only applies when
	// the remainder is exactly one half; otherwise this is precision
	// loss and must fail rather than silently truncate.
	quot := new(big.Int)
	rem := new(big.Int)
	quot.QuoRem(num, den, rem)
	remAbs := new(big.Int).Abs(rem)
	twiceRem := new(big.Int).Lsh(remAbs, 1)
	denAbs := new(big.Int).Abs(den)
	cmp := twiceRem.Cmp(denAbs)
	if cmp == 0 {
		// Exactly half: round to even.
		if quot.Bit(0) == 1 {
			if (rem.Sign() < 0) != (den.Sign() < 0) {
				quot.Sub(quot, big.NewInt(1))
			} else {
				quot.Add(quot, big.NewInt(1))
			}
		}
		return quot.Int64(), nil
	}
	return 0, apperr.New(apperr.KindMapping, "ScaleDecimal",
		fmt.Errorf("%w: %s at scale %d has more fractional digits than the scale permits", apperr.ErrPrecisionLoss, decimal.RatString(), scale))
}

// ParseDecimal parses a decimal string exactly (no float round-trip).
func ParseDecimal(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, apperr.New(apperr.KindMapping, "ParseDecimal", fmt.Errorf("%w: %q", apperr.ErrBadDecimal, s))
	}
	return r, nil
}

// QtyToBase converts a venue-reported quantity to base-asset units
// per the instrument's quote kind:
//   - linear-quote:    base = qty
//   - inverse-base:    base = qty / price
//   - contract-units:  base = qty * contract_size
func QtyToBase(qtyStr, priceStr string, spec Spec) (*big.Rat, error) {
	qty, err := ParseDecimal(qtyStr)
	if err != nil {
		return nil, err
	}
	switch spec.QuoteKind {
	case QuoteLinear:
		return qty, nil
	case QuoteInverse:
		price, err := ParseDecimal(priceStr)
		if err != nil {
			return nil, err
		}
		if price.Sign() == 0 {
			return nil, apperr.New(apperr.KindMapping, "QtyToBase", fmt.Errorf("%w: price is zero", apperr.ErrBadDecimal))
		}
		return new(big.Rat).Quo(qty, price), nil
	case QuoteContract:
		if spec.ContractSize == nil || spec.ContractSize.Sign() <= 0 {
			return nil, apperr.New(apperr.KindMapping, "QtyToBase", fmt.Errorf("contract_size must be > 0"))
		}
		return new(big.Rat).Mul(qty, spec.ContractSize), nil
	default:
		return nil, apperr.New(apperr.KindMapping, "QtyToBase", fmt.Errorf("unknown quote kind %q", spec.QuoteKind))
	}
}
