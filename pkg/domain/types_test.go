package domain

import "testing"

func TestUsageCostRoundsUp(t *testing.T) {
	cases := []struct {
		tokens int
		per1K  int64
		want   int64
	}{
		{0, 10, 0},
		{-5, 10, 0},
		{1000, 10, 10},
		{1001, 10, 11},
		{1, 1, 1},
		{999, 1, 1},
		{1500, 12, 18},
		{1000, 0, 0},
	}
	for _, c := range cases {
		if got := UsageCost(c.tokens, c.per1K); got != c.want {
			t.Errorf("UsageCost(%d, %d) = %d, want %d", c.tokens, c.per1K, got, c.want)
		}
	}
}

func TestValidResolution(t *testing.T) {
	for _, r := range Resolutions {
		if !ValidResolution(r) {
			t.Errorf("ValidResolution(%d) = false", r)
		}
	}
	for _, r := range []int{0, 640, 2048, -512} {
		if ValidResolution(r) {
			t.Errorf("ValidResolution(%d) = true", r)
		}
	}
}
