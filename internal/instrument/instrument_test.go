package instrument

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPowerOfTenBoundaries(t *testing.T) {
	assert.True(t, IsPowerOfTen(1))
	assert.False(t, IsPowerOfTen(0))
	assert.False(t, IsPowerOfTen(-10))
	assert.True(t, IsPowerOfTen(1000))
	assert.False(t, IsPowerOfTen(300))
}

func TestScaleDecimalExactRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		decimal string
		scale   int64
		want    int64
	}{
		{"123.45", 100, 12345},
		{"0.00001", 100000, 1},
		{"1000", 1, 1000},
		{"-5.5", 10, -55},
	} {
		d, err := ParseDecimal(tc.decimal)
		require.NoError(t, err)
		got, err := ScaleDecimal(d, tc.scale)
		require.NoError(t, err, tc.decimal)
		assert.Equal(t, tc.want, got, tc.decimal)
	}
}

func TestScaleDecimalPrecisionLossRejected(t *testing.T) {
	d, err := ParseDecimal("123.456")
	require.NoError(t, err)
	_, err = ScaleDecimal(d, 100)
	require.Error(t, err)
}

func TestScaleDecimalBankersRounding(t *testing.T) {
	// 0.125 at scale 100 -> 12.5 -> ties to even -> 12
	d, err := ParseDecimal("0.125")
	require.NoError(t, err)
	got, err := ScaleDecimal(d, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(12), got)

	// 0.135 at scale 100 -> 13.5 -> ties to even -> 14
	d2, err := ParseDecimal("0.135")
	require.NoError(t, err)
	got2, err := ScaleDecimal(d2, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(14), got2)
}

func TestQtyToBaseQuoteKinds(t *testing.T) {
	linear := Spec{QuoteKind: QuoteLinear}
	q, err := QtyToBase("10", "100", linear)
	require.NoError(t, err)
	assert.Equal(t, big.NewRat(10, 1), q)

	inverse := Spec{QuoteKind: QuoteInverse}
	q2, err := QtyToBase("100", "50", inverse)
	require.NoError(t, err)
	assert.Equal(t, big.NewRat(2, 1), q2)

	contract := Spec{QuoteKind: QuoteContract, ContractSize: big.NewRat(100, 1)}
	q3, err := QtyToBase("3", "0", contract)
	require.NoError(t, err)
	assert.Equal(t, big.NewRat(300, 1), q3)
}

func TestRegistryUnknownInstrument(t *testing.T) {
	r := NewRegistry()
	_, err := r.MustGet("binance", "BTCUSDT")
	require.Error(t, err)
}

func TestRegistryLoadRejectsBadContractSize(t *testing.T) {
	r := NewRegistry()
	err := r.Load([]Spec{{Exchange: "okx", Symbol: "BTC-USD-SWAP", QuoteKind: QuoteContract, ContractSize: big.NewRat(0, 1)}})
	require.Error(t, err)
}
