// Package costmeter converts token counts into ledger-native credit
// units. It is pure: no clock, no store, no side effects.
package costmeter

import (
	"github.com/shopspring/decimal"

	"github.com/loreweave/loreweave-engine/internal/credit"
	"github.com/loreweave/loreweave-engine/internal/modelcatalog"
)

// Scale converts raw multiplier units into credit units:
//
//	cost = (tokensIn*inputMultiplier + tokensOut*outputMultiplier) / Scale
//
// With Scale = 100000 a multiplier of 150 means 0.0015 credits per token
// before rounding.
const Scale = 100000

// scaleDigits is log10(Scale); dividing by Scale is an exact decimal
// shift by this many places.
const scaleDigits = 5

// ComputeCost returns the credit cost for a finished generation, rounded
// to credit.Places decimal places half away from zero. The rounding here
// is the single commit-time rounding: the returned value is written to
// the ledger verbatim and never re-rounded on read.
//
// The model must come from a catalog Resolve call; a zero or disabled
// model fails with modelcatalog.ErrModelUnavailable.
func ComputeCost(tokensIn, tokensOut int, model modelcatalog.Model) (decimal.Decimal, error) {
	if model.ID == "" || !model.Enabled {
		return decimal.Zero, modelcatalog.ErrModelUnavailable
	}
	raw := int64(tokensIn)*model.InputMultiplier + int64(tokensOut)*model.OutputMultiplier
	// Scale is a power of ten, so the division is an exact shift.
	cost := decimal.New(raw, -scaleDigits)
	return cost.Round(credit.Places), nil
}
