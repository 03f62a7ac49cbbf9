package fee

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCompute_DefaultTable(t *testing.T) {
	tests := []struct {
		currency string
		amount   string
		want     string
	}{
		{"usdt", "100", "9.00"},
		{"USDT", "100", "9.00"},
		{"usdttrc20", "100", "9.00"},
		{"usdterc20", "250", "12.00"},
		{"btc", "100", "12.00"},
		{"eth", "20", "10.40"},
		{"some-new-coin", "100", "12.00"},
		{"", "100", "12.00"},
		{"ltc", "33.33", "10.67"},
	}
	for _, tt := range tests {
		t.Run(tt.currency+"/"+tt.amount, func(t *testing.T) {
			got := Compute(tt.currency, d(tt.amount))
			assert.True(t, got.Equal(d(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestCompute_Deterministic(t *testing.T) {
	first := Compute("btc", d("123.45"))
	for i := 0; i < 100; i++ {
		assert.True(t, first.Equal(Compute("btc", d("123.45"))))
	}
}

func TestTable_ExplicitRuleBeatsFamily(t *testing.T) {
	table := Table{
		Rules: map[string]Rule{
			"usdtsol": {Type: Fixed, Fixed: d("1.50")},
		},
		Families: DefaultTable.Families,
		Default:  DefaultTable.Default,
	}

	assert.True(t, table.Compute("usdtsol", d("1000")).Equal(d("1.50")))
	assert.True(t, table.Compute("usdtbsc", d("100")).Equal(d("9")))
}

func TestTable_EmptyFallsBackToDefault(t *testing.T) {
	table := Table{Default: Rule{Type: Fixed, Fixed: d("3")}}
	assert.True(t, table.Compute("xmr", d("50")).Equal(d("3")))
}
