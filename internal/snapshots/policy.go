package snapshots

import "time"

// Policy decides when a snapshot is stale.
type Policy struct {
	MessageModulus int
	TimeThreshold  time.Duration
}

// DefaultPolicy refreshes every 5 messages or after 30s of quiet.
func DefaultPolicy() Policy {
	return Policy{MessageModulus: 5, TimeThreshold: 30 * time.Second}
}

// ShouldRefresh is true when count is a positive multiple of MessageModulus
// or when at least TimeThreshold has passed since lastActivity.
func (p Policy) ShouldRefresh(count int, lastActivity, now time.Time) bool {
	if p.MessageModulus > 0 && count > 0 && count%p.MessageModulus == 0 {
		return true
	}
	return now.Sub(lastActivity) >= p.TimeThreshold
}
