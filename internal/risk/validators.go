package risk

import "fmt"

// MaxTotalPositions rejects once the shared map already holds max entries,
// a standing concurrent-position ceiling for the whole risk profile.
func MaxTotalPositions(max int) ValidationFunc {
	return func(a Args) error {
		if a.ActivePositionCount >= max {
			return &Rejection{ID: "max_total_positions", Note: fmt.Sprintf("active position count %d has reached the limit of %d", a.ActivePositionCount, max)}
		}
		return nil
	}
}

// MaxPositionsPerSymbol rejects a signal once the symbol already has max
// open positions under this risk profile, a per-symbol position cap.
func MaxPositionsPerSymbol(max int) ValidationFunc {
	return func(a Args) error {
		count := 0
		for _, pos := range a.ActivePositions {
			if pos.Symbol == a.Context.Symbol {
				count++
			}
		}
		if count >= max {
			return &Rejection{ID: "max_positions_per_symbol", Note: fmt.Sprintf("symbol %s already has %d open position(s), limit %d", a.Context.Symbol, count, max)}
		}
		return nil
	}
}

// NoDuplicateStrategyExchangeSymbol rejects a signal if the exact
// (strategy, exchange, symbol) key is already open, enforcing the map's own
// key invariant defensively (AddSignal would otherwise silently overwrite).
func NoDuplicateStrategyExchangeSymbol() ValidationFunc {
	return func(a Args) error {
		key := a.Context.Strategy + ":" + a.Context.Exchange + ":" + a.Context.Symbol
		if _, exists := a.ActivePositions[key]; exists {
			return &Rejection{ID: "duplicate_position", Note: "a position already exists for " + key}
		}
		return nil
	}
}
