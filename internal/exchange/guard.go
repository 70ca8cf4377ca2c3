package exchange

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/config"
	"github.com/solstice-quant/signalengine/internal/domain"
)

// Guarded wraps an Adapter with a candle-fetch retry policy and a
// typical-price anomaly filter, applied uniformly regardless of what the
// underlying integration does on its own: a fixed retry delay rather than
// exponential backoff, since candle polling runs on its own short interval
// already.
type Guarded struct {
	inner  Adapter
	cfg    *config.Config
	logger *zap.Logger
}

// NewGuarded wraps inner with retry and anomaly filtering per cfg.
func NewGuarded(inner Adapter, cfg *config.Config, logger *zap.Logger) *Guarded {
	return &Guarded{inner: inner, cfg: cfg, logger: logger.Named("exchange")}
}

// GetCandles makes up to CC_GET_CANDLES_RETRY_COUNT attempts in total,
// retrying on error, then filters the anomaly guard over the result.
func (g *Guarded) GetCandles(ctx context.Context, symbol, interval string, sinceTs time.Time, limit int, backtest bool) ([]domain.Candle, error) {
	candles, err := g.retry(ctx, func() ([]domain.Candle, error) {
		return g.inner.GetCandles(ctx, symbol, interval, sinceTs, limit, backtest)
	})
	if err != nil {
		return nil, err
	}
	return filterAnomalies(candles, g.cfg.AnomalyThresholdFactor, g.cfg.MinCandlesForMedian), nil
}

// GetNextCandles is GetCandles' mirror for the forward direction.
func (g *Guarded) GetNextCandles(ctx context.Context, symbol, interval string, sinceTs time.Time, limit int, backtest bool) ([]domain.Candle, error) {
	candles, err := g.retry(ctx, func() ([]domain.Candle, error) {
		return g.inner.GetNextCandles(ctx, symbol, interval, sinceTs, limit, backtest)
	})
	if err != nil {
		return nil, err
	}
	return filterAnomalies(candles, g.cfg.AnomalyThresholdFactor, g.cfg.MinCandlesForMedian), nil
}

func (g *Guarded) FormatPrice(symbol string, price decimal.Decimal, backtest bool) string {
	return g.inner.FormatPrice(symbol, price, backtest)
}

func (g *Guarded) FormatQuantity(symbol string, qty decimal.Decimal, backtest bool) string {
	return g.inner.FormatQuantity(symbol, qty, backtest)
}

func (g *Guarded) GetOrderBook(ctx context.Context, symbol string, depth int, from, to time.Time, backtest bool) (OrderBook, error) {
	return g.inner.GetOrderBook(ctx, symbol, depth, from, to, backtest)
}

func (g *Guarded) retry(ctx context.Context, fn func() ([]domain.Candle, error)) ([]domain.Candle, error) {
	var lastErr error
	attempts := g.cfg.GetCandlesRetryCount
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		candles, err := fn()
		if err == nil {
			return candles, nil
		}
		lastErr = err
		g.logger.Warn("candle fetch failed",
			zap.Int("attempt", attempt), zap.Int("maxAttempts", attempts), zap.Error(err))
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.cfg.GetCandlesRetryDelay):
		}
	}
	return nil, fmt.Errorf("exchange: candle fetch failed after %d attempts: %w", attempts, lastErr)
}

// filterAnomalies drops any candle whose typical price deviates from the
// median-of-medians by more than thresholdFactor. With fewer than
// minForMedian candles the median is not meaningful, so the filter is a
// no-op.
func filterAnomalies(candles []domain.Candle, thresholdFactor decimal.Decimal, minForMedian int) []domain.Candle {
	if len(candles) < minForMedian {
		return candles
	}

	typicals := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		typicals[i] = c.TypicalPrice()
	}
	medianOfMedians := median(typicals)
	if medianOfMedians.IsZero() {
		return candles
	}

	out := make([]domain.Candle, 0, len(candles))
	for i, c := range candles {
		deviation := typicals[i].Sub(medianOfMedians).Abs().Div(medianOfMedians)
		if deviation.GreaterThan(thresholdFactor) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func median(values []decimal.Decimal) decimal.Decimal {
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}

var _ Adapter = (*Guarded)(nil)
