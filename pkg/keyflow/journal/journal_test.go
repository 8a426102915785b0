package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/keyflow/pkg/keyflow"
)

// testValue projects a SeqRange.To directly; seqOf reads it back.
type testValue struct {
	seq SeqNr
}

func extract(rec keyflow.Record) (SeqRange, bool, error) {
	if len(rec.Value) == 0 {
		return SeqRange{}, false, nil
	}
	s := SeqNr(rec.Value[0])
	return SeqRange{From: s, To: s}, true, nil
}

func project(sr SeqRange) testValue { return testValue{seq: sr.To} }
func seqOf(v testValue) SeqNr       { return v.seq }

func rec(offset keyflow.Offset, seq byte) keyflow.Record {
	return keyflow.Record{Offset: offset, Value: []byte{seq}}
}

func TestFold_FirstRecordCreatesSnapshot(t *testing.T) {
	snap, err := Fold[testValue](nil, rec(10, 100), extract, project, seqOf)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, keyflow.Offset(10), snap.Offset)
	assert.Equal(t, SeqNr(100), snap.Value.seq)
}

func TestFold_DuplicateOffsetUnchanged(t *testing.T) {
	snap, err := Fold[testValue](nil, rec(1, 100), extract, project, seqOf)
	require.NoError(t, err)

	snap2, err := Fold(snap, rec(1, 100), extract, project, seqOf)
	require.NoError(t, err)
	assert.Same(t, snap, snap2)
}

func TestFold_DuplicateSequenceUnchanged(t *testing.T) {
	snap, err := Fold[testValue](nil, rec(1, 100), extract, project, seqOf)
	require.NoError(t, err)

	snap2, err := Fold(snap, rec(2, 100), extract, project, seqOf)
	require.NoError(t, err)
	assert.Same(t, snap, snap2)
}

func TestFold_OutOfOrderOffsetUnchanged(t *testing.T) {
	snap, err := Fold[testValue](nil, rec(10, 100), extract, project, seqOf)
	require.NoError(t, err)

	snap2, err := Fold(snap, rec(5, 200), extract, project, seqOf)
	require.NoError(t, err)
	assert.Same(t, snap, snap2)
}

func TestFold_AdvancingOffsetAndSequenceUpdates(t *testing.T) {
	snap, err := Fold[testValue](nil, rec(10, 100), extract, project, seqOf)
	require.NoError(t, err)

	snap2, err := Fold(snap, rec(11, 101), extract, project, seqOf)
	require.NoError(t, err)
	require.NotSame(t, snap, snap2)
	assert.Equal(t, keyflow.Offset(11), snap2.Offset)
	assert.Equal(t, SeqNr(101), snap2.Value.seq)
}

func TestFold_UnparseableRecordLeavesStateUnchangedNotAnError(t *testing.T) {
	snap, err := Fold[testValue](nil, rec(10, 100), extract, project, seqOf)
	require.NoError(t, err)

	unparseable := keyflow.Record{Offset: 11}
	snap2, err := Fold(snap, unparseable, extract, project, seqOf)
	require.NoError(t, err)
	assert.Same(t, snap, snap2)
}

func TestFold_ExtractorFailurePropagates(t *testing.T) {
	boom := assert.AnError
	failingExtract := func(rec keyflow.Record) (SeqRange, bool, error) {
		return SeqRange{}, false, boom
	}

	snap, err := Fold[testValue](nil, rec(10, 100), failingExtract, project, seqOf)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, snap)
}
