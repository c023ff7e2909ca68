package atlas

import "time"

// StaleAfter is the corpus age beyond which a resync is forced.
const StaleAfter = 7 * 24 * time.Hour

// NeedsSync decides whether the mirror must resynchronize. An empty mirror,
// a missing or unparsable refresh timestamp, and an age at or past
// StaleAfter all force a sync. Clock skew putting the timestamp in the
// future reads as age zero, not an error.
func NeedsSync(entityCount int, lastRefreshed string, now time.Time) bool {
	if entityCount == 0 {
		return true
	}
	if lastRefreshed == "" {
		return true
	}
	ts, err := time.Parse(time.RFC3339, lastRefreshed)
	if err != nil {
		return true
	}
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	return age >= StaleAfter
}
