package keyflow

import "time"

// Timestamp is the immutable triple passed through the pipeline: the wall
// clock at which it was produced, the broker-assigned event time of the
// record it was derived from (nil when the record carried none), and the
// offset it is attributed to.
type Timestamp struct {
	Clock     time.Time
	Watermark *time.Time
	Offset    Offset
}

// newTimestamp builds a Timestamp, copying watermark by value so later
// mutation of the caller's time.Time can't leak through the pointer.
func newTimestamp(clock time.Time, watermark *time.Time, offset Offset) Timestamp {
	var wm *time.Time
	if watermark != nil {
		t := *watermark
		wm = &t
	}
	return Timestamp{Clock: clock, Watermark: wm, Offset: offset}
}
