// Package exchange defines the market-data contract SignalMachine and the
// orchestrators consume, plus a retrying, anomaly-filtering decorator any
// concrete adapter can be wrapped in.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
)

// Adapter is the capability set a concrete exchange integration provides.
// GetOrderBook is optional: an adapter that doesn't support it returns
// ErrOrderBookUnsupported.
type Adapter interface {
	// GetCandles returns candles strictly before or at sinceTs, newest-bound,
	// at most limit entries.
	GetCandles(ctx context.Context, symbol, interval string, sinceTs time.Time, limit int, backtest bool) ([]domain.Candle, error)

	// GetNextCandles returns candles at or after sinceTs. In live mode this
	// is equivalent to GetCandles with since=now().
	GetNextCandles(ctx context.Context, symbol, interval string, sinceTs time.Time, limit int, backtest bool) ([]domain.Candle, error)

	// FormatPrice applies exchange tick-size precision to price.
	FormatPrice(symbol string, price decimal.Decimal, backtest bool) string

	// FormatQuantity applies exchange lot-size precision to qty.
	FormatQuantity(symbol string, qty decimal.Decimal, backtest bool) string

	// GetOrderBook is a passive read used only by user strategy code.
	GetOrderBook(ctx context.Context, symbol string, depth int, from, to time.Time, backtest bool) (OrderBook, error)
}

// OrderBook is a snapshot of resting orders on both sides.
type OrderBook struct {
	Timestamp time.Time
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
}

// OrderBookLevel is one price/size pair.
type OrderBookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// ErrOrderBookUnsupported is returned by adapters with no order-book feed.
var ErrOrderBookUnsupported = errUnsupported("exchange: order book not supported by this adapter")

type errUnsupported string

func (e errUnsupported) Error() string { return string(e) }

// DefaultPriceDecimals and DefaultQuantityDecimals back the fallback
// formatting any BaseAdapter embedder gets for free when it has no
// per-symbol precision table.
const (
	DefaultPriceDecimals    = 2
	DefaultQuantityDecimals = 8
)

// BaseAdapter supplies default FormatPrice/FormatQuantity/GetOrderBook
// behavior, so a concrete adapter can embed it and only implement
// GetCandles/GetNextCandles.
type BaseAdapter struct{}

// FormatPrice rounds to DefaultPriceDecimals.
func (BaseAdapter) FormatPrice(_ string, price decimal.Decimal, _ bool) string {
	return price.StringFixed(DefaultPriceDecimals)
}

// FormatQuantity rounds to DefaultQuantityDecimals.
func (BaseAdapter) FormatQuantity(_ string, qty decimal.Decimal, _ bool) string {
	return qty.StringFixed(DefaultQuantityDecimals)
}

// GetOrderBook reports unsupported by default.
func (BaseAdapter) GetOrderBook(_ context.Context, _ string, _ int, _, _ time.Time, _ bool) (OrderBook, error) {
	return OrderBook{}, ErrOrderBookUnsupported
}
