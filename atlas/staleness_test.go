package atlas

import (
	"testing"
	"time"
)

func TestNeedsSync(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name          string
		entityCount   int
		lastRefreshed string
		want          bool
	}{
		{"empty mirror", 0, now.Add(-time.Hour).Format(time.RFC3339), true},
		{"no timestamp", 100, "", true},
		{"garbage timestamp", 100, "not-a-date", true},
		{"fresh", 100, now.Add(-time.Hour).Format(time.RFC3339), false},
		{"just under window", 100, now.Add(-StaleAfter + time.Minute).Format(time.RFC3339), false},
		{"exactly at window", 100, now.Add(-StaleAfter).Format(time.RFC3339), true},
		{"past window", 100, now.Add(-8 * 24 * time.Hour).Format(time.RFC3339), true},
		{"future timestamp reads fresh", 100, now.Add(time.Hour).Format(time.RFC3339), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NeedsSync(tc.entityCount, tc.lastRefreshed, now); got != tc.want {
				t.Errorf("NeedsSync(%d, %q) = %v, want %v", tc.entityCount, tc.lastRefreshed, got, tc.want)
			}
		})
	}
}
