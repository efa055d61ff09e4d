package memory

import "testing"

func TestEmaUpdate(t *testing.T) {
	cases := []struct {
		name       string
		confidence float64
		reward     float64
		want       float64
	}{
		{"reward from 0.5 toward success", 0.5, 1, 0.65},
		{"reward from 0.5 toward failure", 0.5, -1, 0.05},
		{"from 0.95 toward success stays below 1", 0.95, 1, 0.965},
		{"clamped at 0", 0.05, -1, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := emaUpdate(c.confidence, c.reward)
			if diff := got - c.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("emaUpdate(%v, %v) = %v, want %v", c.confidence, c.reward, got, c.want)
			}
		})
	}
}

func TestLaplaceConfidence(t *testing.T) {
	cases := []struct {
		hits, misses int
		want         float64
	}{
		{0, 0, 0.5},
		{1, 0, 2.0 / 3.0},
		{0, 1, 1.0 / 3.0},
		{9, 1, 10.0 / 12.0},
	}

	for _, c := range cases {
		got := laplaceConfidence(c.hits, c.misses)
		if diff := got - c.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("laplaceConfidence(%d,%d) = %v, want %v", c.hits, c.misses, got, c.want)
		}
	}
}
