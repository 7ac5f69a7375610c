// Package pricing computes realized request cost from token usage. Prices are
// a static per-million-token table loaded once at startup; all arithmetic is
// exact decimal, rounded to 6 decimal places.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ModelPrice holds per-million-token prices in USD.
type ModelPrice struct {
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
}

// CostPrecision is the number of decimal places costs are rounded to.
const CostPrecision = 6

var million = decimal.NewFromInt(1_000_000)

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Table is an immutable model price lookup.
type Table struct {
	prices   map[string]ModelPrice
	fallback ModelPrice
}

// defaultPrices covers the models the selector and routers can emit. Unknown
// models fall back to a conservative flat price rather than costing zero.
var defaultPrices = map[string]ModelPrice{
	"gpt-4o":                     {usd("2.50"), usd("10.00")},
	"gpt-4o-mini":                {usd("0.15"), usd("0.60")},
	"gpt-4-turbo":                {usd("10.00"), usd("30.00")},
	"o1":                         {usd("15.00"), usd("60.00")},
	"o1-mini":                    {usd("1.10"), usd("4.40")},
	"claude-3-5-sonnet-20241022": {usd("3.00"), usd("15.00")},
	"claude-3-5-haiku-20241022":  {usd("0.80"), usd("4.00")},
	"claude-3-opus-20240229":     {usd("15.00"), usd("75.00")},
	"mistral-large-latest":       {usd("2.00"), usd("6.00")},
	"mistral-small-latest":       {usd("0.20"), usd("0.60")},
	"open-mixtral-8x7b":          {usd("0.70"), usd("0.70")},
}

// defaultFallback is applied when a model has no table entry.
var defaultFallback = ModelPrice{usd("5.00"), usd("15.00")}

// NewTable creates a pricing table with the built-in price list.
func NewTable() *Table {
	return &Table{prices: defaultPrices, fallback: defaultFallback}
}

// NewTableWith creates a pricing table from an explicit price list.
func NewTableWith(prices map[string]ModelPrice, fallback ModelPrice) *Table {
	cp := make(map[string]ModelPrice, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &Table{prices: cp, fallback: fallback}
}

// lookup matches the exact model name first, then the longest table entry the
// model name is prefixed by, so dated snapshots price like their base model.
func (t *Table) lookup(model string) ModelPrice {
	if p, ok := t.prices[model]; ok {
		return p
	}
	best := ""
	for name := range t.prices {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return t.prices[best]
	}
	return t.fallback
}

// Price returns the cost in USD for the given token usage, rounded to
// CostPrecision decimal places.
func (t *Table) Price(model string, promptTokens, completionTokens int) decimal.Decimal {
	p := t.lookup(model)
	in := decimal.NewFromInt(int64(promptTokens)).Mul(p.InputPerMillion)
	out := decimal.NewFromInt(int64(completionTokens)).Mul(p.OutputPerMillion)
	return in.Add(out).Div(million).Round(CostPrecision)
}
