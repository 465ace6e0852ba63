package models

import (
	"math"
	"strconv"
	"strings"
)

// Direction of an order or a position, from the caller's point of view.
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// OptionKind classifies an instrument's option type.
type OptionKind string

const (
	OptionNone OptionKind = ""
	OptionCall OptionKind = "call"
	OptionPut  OptionKind = "put"
)

// Instrument describes one tradable contract from the gateway's universe.
// The catalog loads the full set once per calendar day; entries are
// immutable afterwards.
type Instrument struct {
	Code             string     `json:"symbol"`
	Name             string     `json:"name"`
	Exchange         string     `json:"exchange"`
	Multiple         int        `json:"multiple"`
	PriceTick        float64    `json:"price_tick"`
	ExpireDate       string     `json:"expire_date,omitempty"`
	LongMarginRatio  *float64   `json:"long_margin_ratio"`
	ShortMarginRatio *float64   `json:"short_margin_ratio"`
	OptionType       OptionKind `json:"option_type,omitempty"`
	StrikePrice      *float64   `json:"strike_price"`
	IsTrading        bool       `json:"is_trading"`
}

// PriceDecimals derives the number of decimal places of the price tick,
// used to render prices of orders, trades and positions.
func (i Instrument) PriceDecimals() int {
	s := strconv.FormatFloat(i.PriceTick, 'f', -1, 64)
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		return len(s) - idx - 1
	}
	return 2
}

// FilterPrice maps the gateway's absent-value sentinel (max double) to nil.
func FilterPrice(v float64) *float64 {
	if math.IsNaN(v) || v >= math.MaxFloat64/2 {
		return nil
	}
	return &v
}
