package keyflow

import "math"

// Offset is a position within a partition log. It is monotonically
// non-decreasing within a partition and never negative.
type Offset int64

// TopicPartition identifies the partition a PartitionFlow is bound to.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// OffsetToCommitFunc computes the offset a consumer would resume from after
// having processed the record at o, i.e. one past it. It fails on overflow.
type OffsetToCommitFunc func(o Offset) (Offset, error)

// DefaultOffsetToCommit is OffsetToCommitFunc's reference implementation:
// o+1, with an overflow check against math.MaxInt64.
func DefaultOffsetToCommit(o Offset) (Offset, error) {
	if o == math.MaxInt64 {
		return 0, errOffsetOverflowf(o)
	}
	return o + 1, nil
}
