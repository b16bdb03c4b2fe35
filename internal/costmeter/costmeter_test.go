package costmeter

import (
	"errors"
	"testing"

	"github.com/loreweave/loreweave-engine/internal/modelcatalog"
	"github.com/shopspring/decimal"
)

func TestComputeCostFormula(t *testing.T) {
	model := modelcatalog.Model{ID: "scribe-large", InputMultiplier: 150, OutputMultiplier: 600, Enabled: true}

	cost, err := ComputeCost(1000, 500, model)
	if err != nil {
		t.Fatalf("ComputeCost: %v", err)
	}
	// (1000*150 + 500*600) / 100000 = 4.5
	if want := decimal.RequireFromString("4.5"); !cost.Equal(want) {
		t.Fatalf("expected %s, got %s", want, cost)
	}

	again, err := ComputeCost(1000, 500, model)
	if err != nil {
		t.Fatalf("ComputeCost: %v", err)
	}
	if !cost.Equal(again) {
		t.Fatalf("not deterministic: %s vs %s", cost, again)
	}
}

func TestComputeCostRoundsHalfAwayFromZero(t *testing.T) {
	model := modelcatalog.Model{ID: "scribe-mini", InputMultiplier: 25, OutputMultiplier: 0, Enabled: true}

	// 25/100000 = 0.00025, exactly halfway at 4 places.
	cost, err := ComputeCost(1, 0, model)
	if err != nil {
		t.Fatalf("ComputeCost: %v", err)
	}
	if want := decimal.RequireFromString("0.0003"); !cost.Equal(want) {
		t.Fatalf("expected half-away rounding to %s, got %s", want, cost)
	}

	model.InputMultiplier = 14
	cost, err = ComputeCost(1, 0, model)
	if err != nil {
		t.Fatalf("ComputeCost: %v", err)
	}
	if want := decimal.RequireFromString("0.0001"); !cost.Equal(want) {
		t.Fatalf("expected %s, got %s", want, cost)
	}
}

func TestComputeCostUnavailableModel(t *testing.T) {
	if _, err := ComputeCost(10, 10, modelcatalog.Model{}); !errors.Is(err, modelcatalog.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable for zero model, got %v", err)
	}
	disabled := modelcatalog.Model{ID: "scribe-large", InputMultiplier: 1, OutputMultiplier: 1, Enabled: false}
	if _, err := ComputeCost(10, 10, disabled); !errors.Is(err, modelcatalog.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable for disabled model, got %v", err)
	}
}
