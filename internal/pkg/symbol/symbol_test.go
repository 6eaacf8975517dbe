package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseForms(t *testing.T) {
	cases := []struct {
		in   string
		want Symbol
	}{
		{"BTC/USDT", Symbol{"BTC", "USDT"}},
		{"btc/usdt", Symbol{"BTC", "USDT"}},
		{"ETH_USDT", Symbol{"ETH", "USDT"}},
		{"SOL-USDT", Symbol{"SOL", "USDT"}},
		{"BTCUSDT", Symbol{"BTC", "USDT"}},
		{"ETH/USDT:USDT", Symbol{"ETH", "USDT"}},
		{" doge/usdt ", Symbol{"DOGE", "USDT"}},
		{"", Symbol{}},
		{"XYZ", Symbol{}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Parse(tc.in), "input %q", tc.in)
	}
}

func TestExchangeForms(t *testing.T) {
	s := Parse("BTC/USDT")
	assert.Equal(t, "BTC/USDT", s.Internal())
	assert.Equal(t, "BTCUSDT", s.Binance())
	assert.Equal(t, "BTC_USDT", s.Gate())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ETH/USDT", Normalize("ethusdt"))
	assert.Equal(t, "", Normalize("???"))
}
