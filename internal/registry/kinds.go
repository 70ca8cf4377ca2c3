package registry

import (
	"github.com/solstice-quant/signalengine/internal/exchange"
	"github.com/solstice-quant/signalengine/internal/risk"
	"github.com/solstice-quant/signalengine/internal/strategycontract"
)

// Strategies is the concrete registry type a deployment's main package
// populates with its strategy adapters and hands to the machine factory.
type Strategies = Registry[strategycontract.Adapter]

// Exchanges is the concrete registry type for exchange adapters.
type Exchanges = Registry[exchange.Adapter]

// RiskValidators is the concrete registry type for named risk validation
// functions, so a deployment's config can select a profile ("conservative",
// "aggressive", ...) by name instead of wiring Go closures by hand.
type RiskValidators = Registry[risk.ValidationFunc]

// NewStrategies builds an empty strategy-adapter registry.
func NewStrategies() *Strategies { return New[strategycontract.Adapter]() }

// NewExchanges builds an empty exchange-adapter registry.
func NewExchanges() *Exchanges { return New[exchange.Adapter]() }

// NewRiskValidators builds an empty risk-validator registry.
func NewRiskValidators() *RiskValidators { return New[risk.ValidationFunc]() }
