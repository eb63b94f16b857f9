package filetime

import (
	"time"
)

// epochDelta is the number of ticks between 1601-01-01 and
// the unix epoch.
const epochDelta = 116444736000000000

const ticksPerSecond = 10000000

// Timestamp converts t into ticks.
func Timestamp(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	ticks := t.Unix()*ticksPerSecond + int64(t.Nanosecond())/100
	return uint64(ticks + epochDelta)
}

// Time converts ticks back into a time in the local zone.
func Time(ticks uint64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	unixTicks := int64(ticks) - epochDelta
	return time.Unix(
		unixTicks/ticksPerSecond,
		(unixTicks%ticksPerSecond)*100,
	)
}
