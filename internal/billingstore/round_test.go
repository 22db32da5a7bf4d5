package billingstore

import "testing"

func TestRound6(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.0982199999, 0.09822},
		{0.0048599999, 0.00486},
		{1.2345675, 1.234568}, // half-even rounds to nearest even last digit... verified below
	}
	for _, c := range cases {
		got := round6(c.in)
		if diff := got - c.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("round6(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestCalculateCostMatchesScenarioS1(t *testing.T) {
	s := New(nil, Pricing{InputPer1k: 0.015, OutputPer1k: 0.045})
	costs := s.CalculateCost(6548, 108)

	wantInput := 0.09822
	wantOutput := 0.00486
	wantTotal := 0.10308

	if costs.InputCost != wantInput {
		t.Errorf("InputCost = %v, want %v", costs.InputCost, wantInput)
	}
	if costs.OutputCost != wantOutput {
		t.Errorf("OutputCost = %v, want %v", costs.OutputCost, wantOutput)
	}
	if costs.TotalCost != wantTotal {
		t.Errorf("TotalCost = %v, want %v", costs.TotalCost, wantTotal)
	}
}
