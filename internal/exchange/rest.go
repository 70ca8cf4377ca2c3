package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
)

// kline mirrors one row of a REST kline/candlestick response: string-encoded
// OHLCV fields decoded straight into decimal.Decimal rather than float64.
type kline struct {
	OpenTime int64           `json:"openTime"`
	Open     decimal.Decimal `json:"open,string"`
	High     decimal.Decimal `json:"high,string"`
	Low      decimal.Decimal `json:"low,string"`
	Close    decimal.Decimal `json:"close,string"`
	Volume   decimal.Decimal `json:"volume,string"`
}

// RESTAdapter is a minimal candle-only exchange.Adapter over a generic
// kline REST endpoint, grounded on the pack's Bitunix rest.Client: a
// pooled resty.Client hitting a /klines-shaped path with symbol/interval/
// start/end/limit query params.
type RESTAdapter struct {
	BaseAdapter
	rest         *resty.Client
	klinesPath   string
	priceDecimals, qtyDecimals int32
}

// NewRESTAdapter builds a RESTAdapter against baseURL, timing out each
// request after timeout.
func NewRESTAdapter(baseURL string, timeout time.Duration) *RESTAdapter {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0) // exchange.Guarded supplies the engine's own retry policy

	return &RESTAdapter{
		rest:          r,
		klinesPath:    "/api/v1/market/klines",
		priceDecimals: DefaultPriceDecimals,
		qtyDecimals:   DefaultQuantityDecimals,
	}
}

// GetCandles fetches at most limit candles ending at or before sinceTs.
func (a *RESTAdapter) GetCandles(ctx context.Context, symbol, interval string, sinceTs time.Time, limit int, _ bool) ([]domain.Candle, error) {
	return a.fetch(ctx, symbol, interval, 0, sinceTs.UnixMilli(), limit)
}

// GetNextCandles fetches at most limit candles starting at or after sinceTs.
func (a *RESTAdapter) GetNextCandles(ctx context.Context, symbol, interval string, sinceTs time.Time, limit int, _ bool) ([]domain.Candle, error) {
	return a.fetch(ctx, symbol, interval, sinceTs.UnixMilli(), 0, limit)
}

func (a *RESTAdapter) fetch(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]domain.Candle, error) {
	params := map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}
	if startMs > 0 {
		params["startTime"] = strconv.FormatInt(startMs, 10)
	}
	if endMs > 0 {
		params["endTime"] = strconv.FormatInt(endMs, 10)
	}

	var klines []kline
	resp, err := a.rest.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&klines).
		Get(a.klinesPath)
	if err != nil {
		return nil, fmt.Errorf("exchange: kline request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("exchange: kline request status %d: %s", resp.StatusCode(), resp.String())
	}

	candles := make([]domain.Candle, len(klines))
	for i, k := range klines {
		candles[i] = domain.Candle{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		}
	}
	return candles, nil
}

// FormatPrice overrides BaseAdapter's default with this adapter's configured
// precision.
func (a *RESTAdapter) FormatPrice(_ string, price decimal.Decimal, _ bool) string {
	return price.StringFixed(a.priceDecimals)
}

// FormatQuantity overrides BaseAdapter's default with this adapter's
// configured precision.
func (a *RESTAdapter) FormatQuantity(_ string, qty decimal.Decimal, _ bool) string {
	return qty.StringFixed(a.qtyDecimals)
}

var _ Adapter = (*RESTAdapter)(nil)
