// Package journal folds a key's journal records into a deduplicated
// KafkaSnapshot, dropping records at or before the snapshot's offset and
// records whose sequence range does not advance the snapshot's sequence.
package journal

import "github.com/grafana/keyflow/pkg/keyflow"

// SeqNr is a per-key sequence number carried in record headers,
// independent of offset, used to detect duplicate or out-of-order writes
// that a redelivery or a producer retry can otherwise reintroduce at a new
// offset.
type SeqNr int64

// SeqRange is the span of sequence numbers a single record advances the
// key's journal by. To is what gets compared against the snapshot's
// current sequence.
type SeqRange struct {
	From, To SeqNr
}

// KafkaSnapshot is the persisted summary of a key's journal: the offset and
// projected value as of the last record folded into it.
type KafkaSnapshot[V any] struct {
	Offset keyflow.Offset
	Value  V
}

// Extractor pulls a SeqRange out of a record, or reports ok=false when the
// record carries no parseable sequence information (not an error: such
// records leave the snapshot unchanged). A genuine parse failure should be
// returned as an error, which Fold propagates unchanged.
type Extractor[V any] func(rec keyflow.Record) (sr SeqRange, ok bool, err error)

// Project turns a SeqRange into the value a snapshot carries.
type Project[V any] func(SeqRange) V

// SeqOf extracts the sequence number a previously-projected value
// represents, so Fold can compare it against a new record's SeqRange.To.
type SeqOf[V any] func(V) SeqNr

// Fold applies one record to prior, returning the new snapshot (or prior,
// unchanged, when the record is a duplicate, out of order, or carries no
// parseable sequence range). Re-folding a record whose offset is at or
// before prior's, or whose sequence does not advance prior's, always
// yields prior back unchanged (idempotent).
func Fold[V any](prior *KafkaSnapshot[V], rec keyflow.Record, extract Extractor[V], project Project[V], seqOf SeqOf[V]) (*KafkaSnapshot[V], error) {
	sr, ok, err := extract(rec)
	if err != nil {
		return prior, err
	}
	if !ok {
		return prior, nil
	}

	if prior == nil {
		return &KafkaSnapshot[V]{Offset: rec.Offset, Value: project(sr)}, nil
	}
	if rec.Offset <= prior.Offset {
		return prior, nil
	}
	if sr.To <= seqOf(prior.Value) {
		return prior, nil
	}
	return &KafkaSnapshot[V]{Offset: rec.Offset, Value: project(sr)}, nil
}
