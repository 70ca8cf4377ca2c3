package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActivePosition is the record RiskGate holds for every open signal,
// shared across all SignalMachines using the same risk profile.
type ActivePosition struct {
	Strategy            string          `json:"strategy"`
	Exchange            string          `json:"exchange"`
	Frame               string          `json:"frame"`
	Symbol              string          `json:"symbol"`
	Direction           Direction       `json:"direction"`
	PriceOpen           decimal.Decimal `json:"priceOpen"`
	PriceStopLoss       decimal.Decimal `json:"priceStopLoss"`
	PriceTakeProfit     decimal.Decimal `json:"priceTakeProfit"`
	MinuteEstimatedTime int             `json:"minuteEstimatedTime"`
	OpenTimestamp       time.Time       `json:"openTimestamp"`
}

// PositionKey returns the map key RiskGate uses: "{strategy}:{exchange}:{symbol}".
func PositionKey(strategy, exchange, symbol string) string {
	return strategy + ":" + exchange + ":" + symbol
}

// PartialState is the persisted per-signal milestone bookkeeping: two sets
// of the levels {10,20,...,100} already emitted, one per PartialType.
type PartialState struct {
	ProfitLevels []int `json:"profitLevels"`
	LossLevels   []int `json:"lossLevels"`
}

// BreakevenState is the persisted per-signal breakeven flag.
type BreakevenState struct {
	Reached bool `json:"reached"`
}
