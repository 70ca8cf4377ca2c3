package signalmachine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/signalmachine"
)

func TestRealizedPnLWeightsPartialLegsAndRemainder(t *testing.T) {
	cfg := testConfig()
	cfg.PercentSlippage = decimal.Zero
	cfg.PercentFee = decimal.Zero

	sig := domain.NewSignal("sig1", testMachineCtx(), domain.Long,
		decimal.NewFromInt(100), decimal.NewFromInt(130), decimal.NewFromInt(90),
		60, false, time.Now().UTC())
	sig.AppendPartial(domain.PartialProfit, decimal.NewFromInt(50), decimal.NewFromInt(110))

	pnl := signalmachine.RealizedPnL(sig, decimal.NewFromInt(120), cfg)

	// 50% closed at +10%, 50% remaining closed at final +20%: weighted
	// average = 0.5*10 + 0.5*20 = 15%.
	want := decimal.NewFromInt(15)
	if !pnl.Equal(want) {
		t.Fatalf("RealizedPnL = %s, want %s", pnl, want)
	}
}

func TestRealizedPnLIsNegativeForShortLossAndSignAware(t *testing.T) {
	cfg := testConfig()
	cfg.PercentSlippage = decimal.Zero
	cfg.PercentFee = decimal.Zero

	sig := domain.NewSignal("sig1", testMachineCtx(), domain.Short,
		decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(110),
		60, false, time.Now().UTC())

	pnl := signalmachine.RealizedPnL(sig, decimal.NewFromInt(105), cfg)
	if !pnl.IsNegative() {
		t.Fatalf("RealizedPnL = %s, want negative (price moved against a short)", pnl)
	}
}

func TestUnrealizedPnLMatchesRealizedPnLAtSamePrice(t *testing.T) {
	cfg := testConfig()
	sig := domain.NewSignal("sig1", testMachineCtx(), domain.Long,
		decimal.NewFromInt(100), decimal.NewFromInt(130), decimal.NewFromInt(90),
		60, false, time.Now().UTC())

	price := decimal.NewFromInt(115)
	if !signalmachine.UnrealizedPnL(sig, price, cfg).Equal(signalmachine.RealizedPnL(sig, price, cfg)) {
		t.Fatal("UnrealizedPnL should compute the same formula as RealizedPnL for a hypothetical close")
	}
}
