// Package fee computes deposit fees. Computation is pure: the same currency and
// amount always produce the same fee.
package fee

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RuleType is the shape of a fee Rule
type RuleType string

// Defining constants
const (
	Fixed               RuleType = "fixed"
	PercentagePlusFixed RuleType = "percentage_plus_fixed"
)

// Rule describes how the fee for one currency is derived from the base amount
type Rule struct {
	Type  RuleType        `json:"type"`
	Rate  decimal.Decimal `json:"rate"`  // fraction of the base amount, e.g. 0.02. Ignored for Fixed
	Fixed decimal.Decimal `json:"fixed"` // flat component
}

// Apply returns the fee for amount, rounded to cents
func (r Rule) Apply(amount decimal.Decimal) decimal.Decimal {
	fee := r.Fixed
	if r.Type == PercentagePlusFixed {
		fee = amount.Mul(r.Rate).Add(r.Fixed)
	}
	return fee.Round(2)
}

// Table maps currency codes to Rules. Families match any code with the given prefix
// (e.g. "usdt" matches "usdttrc20"). Lookups fall back to Default.
type Table struct {
	Rules    map[string]Rule
	Families map[string]Rule
	Default  Rule
}

// DefaultTable is the fee schedule applied to deposits
var DefaultTable = Table{
	Rules: map[string]Rule{},
	Families: map[string]Rule{
		"usdt": {Type: PercentagePlusFixed, Rate: decimal.RequireFromString("0.02"), Fixed: decimal.NewFromInt(7)},
	},
	Default: Rule{Type: PercentagePlusFixed, Rate: decimal.RequireFromString("0.02"), Fixed: decimal.NewFromInt(10)},
}

// Lookup returns the Rule for currency. Unknown currencies get Default rather than an error,
// so an incomplete table never blocks deposits.
func (t Table) Lookup(currency string) Rule {
	code := strings.ToLower(strings.TrimSpace(currency))
	if rule, ok := t.Rules[code]; ok {
		return rule
	}
	// longest matching family wins
	var match string
	for prefix := range t.Families {
		if strings.HasPrefix(code, prefix) && len(prefix) > len(match) {
			match = prefix
		}
	}
	if match != "" {
		return t.Families[match]
	}
	return t.Default
}

// Compute returns the fee for depositing amount in currency
func (t Table) Compute(currency string, amount decimal.Decimal) decimal.Decimal {
	return t.Lookup(currency).Apply(amount)
}

// Compute applies DefaultTable
func Compute(currency string, amount decimal.Decimal) decimal.Decimal {
	return DefaultTable.Compute(currency, amount)
}
