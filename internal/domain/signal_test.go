package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNewSignalPendingAtOnlyWhenNotScheduled(t *testing.T) {
	now := time.Now().UTC()
	ctx := domain.Context{Symbol: "BTCUSDT", Strategy: "s", Exchange: "e", Frame: "live"}

	scheduled := domain.NewSignal("id1", ctx, domain.Long, dec("100"), dec("110"), dec("95"), 60, true, now)
	if !scheduled.PendingAt.IsZero() {
		t.Fatalf("PendingAt = %v, want zero for a scheduled signal", scheduled.PendingAt)
	}

	immediate := domain.NewSignal("id2", ctx, domain.Long, dec("100"), dec("110"), dec("95"), 60, false, now)
	if !immediate.PendingAt.Equal(now) {
		t.Fatalf("PendingAt = %v, want %v for an immediately pending signal", immediate.PendingAt, now)
	}
}

func TestEffectiveLevelsFallBackToOriginal(t *testing.T) {
	ctx := domain.Context{}
	s := domain.NewSignal("id", ctx, domain.Long, dec("100"), dec("110"), dec("95"), 60, false, time.Now())

	if !s.EffectiveStopLoss().Equal(dec("95")) {
		t.Fatalf("EffectiveStopLoss = %s, want 95 before any trailing", s.EffectiveStopLoss())
	}
	if !s.EffectiveTakeProfit().Equal(dec("110")) {
		t.Fatalf("EffectiveTakeProfit = %s, want 110 before any trailing", s.EffectiveTakeProfit())
	}

	trailedSL := dec("98")
	s.TrailingStopLoss = &trailedSL
	if !s.EffectiveStopLoss().Equal(trailedSL) {
		t.Fatalf("EffectiveStopLoss = %s, want trailing value %s", s.EffectiveStopLoss(), trailedSL)
	}
}

func TestHasCrossedTakeProfitAndStopLossRespectDirection(t *testing.T) {
	ctx := domain.Context{}

	long := domain.NewSignal("id", ctx, domain.Long, dec("100"), dec("110"), dec("95"), 60, false, time.Now())
	if !long.HasCrossedTakeProfit(dec("110")) {
		t.Fatalf("long signal should cross TP at or above 110")
	}
	if long.HasCrossedTakeProfit(dec("109.99")) {
		t.Fatalf("long signal should not cross TP below 110")
	}
	if !long.HasCrossedStopLoss(dec("95")) {
		t.Fatalf("long signal should cross SL at or below 95")
	}

	short := domain.NewSignal("id", ctx, domain.Short, dec("100"), dec("90"), dec("105"), 60, false, time.Now())
	if !short.HasCrossedTakeProfit(dec("90")) {
		t.Fatalf("short signal should cross TP at or below 90")
	}
	if !short.HasCrossedStopLoss(dec("105")) {
		t.Fatalf("short signal should cross SL at or above 105")
	}
}

func TestAppendPartialAndDerivedTotals(t *testing.T) {
	ctx := domain.Context{}
	s := domain.NewSignal("id", ctx, domain.Long, dec("100"), dec("110"), dec("95"), 60, false, time.Now())

	s.AppendPartial(domain.PartialProfit, dec("30"), dec("105"))
	s.AppendPartial(domain.PartialLoss, dec("10"), dec("97"))

	if !s.TotalClosed().Equal(dec("40")) {
		t.Fatalf("TotalClosed = %s, want 40", s.TotalClosed())
	}
	if !s.TotalExecuted().Equal(s.TotalClosed()) {
		t.Fatalf("TotalExecuted must mirror TotalClosed")
	}
	if !s.RemainingPercent().Equal(dec("60")) {
		t.Fatalf("RemainingPercent = %s, want 60", s.RemainingPercent())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ctx := domain.Context{}
	s := domain.NewSignal("id", ctx, domain.Long, dec("100"), dec("110"), dec("95"), 60, false, time.Now())
	trailedSL := dec("98")
	s.TrailingStopLoss = &trailedSL
	s.AppendPartial(domain.PartialProfit, dec("10"), dec("101"))

	clone := s.Clone()
	clone.AppendPartial(domain.PartialProfit, dec("10"), dec("102"))
	*clone.TrailingStopLoss = dec("99")

	if len(s.Partial) != 1 {
		t.Fatalf("mutating clone's partial log leaked back into original: len=%d", len(s.Partial))
	}
	if !s.TrailingStopLoss.Equal(dec("98")) {
		t.Fatalf("mutating clone's trailing SL leaked back into original: %s", s.TrailingStopLoss)
	}
}

func TestDirectionSign(t *testing.T) {
	if !domain.Long.Sign().Equal(decimal.NewFromInt(1)) {
		t.Fatalf("Long.Sign() = %s, want 1", domain.Long.Sign())
	}
	if !domain.Short.Sign().Equal(decimal.NewFromInt(-1)) {
		t.Fatalf("Short.Sign() = %s, want -1", domain.Short.Sign())
	}
}
