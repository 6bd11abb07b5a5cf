package envelope

import (
	"time"
)

// epoch is the reference point NetTime counts milliseconds from: an
// arbitrary fixed instant rather than the Unix epoch, so that wire
// timestamps carry no incidental information about the host clock's
// epoch conventions.
var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// NetTime is a signed count of milliseconds since epoch.
type NetTime int64

// Now returns the current time as a NetTime.
func Now() NetTime {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to NetTime.
func FromTime(t time.Time) NetTime {
	return NetTime(t.UTC().Sub(epoch).Milliseconds())
}

// FromUnix converts Unix seconds to NetTime.
func FromUnix(sec int64) NetTime {
	return FromTime(time.Unix(sec, 0))
}

// ToTime converts a NetTime back to a time.Time.
func (n NetTime) ToTime() time.Time {
	return epoch.Add(time.Duration(n) * time.Millisecond)
}

// ToUnix converts a NetTime to Unix seconds.
func (n NetTime) ToUnix() int64 {
	return n.ToTime().Unix()
}

func (n NetTime) String() string {
	return n.ToTime().Format(time.RFC3339)
}
