package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kerr"
)

func TestHandleKafkaError(t *testing.T) {
	tests := []struct {
		name              string
		err               error
		expectedRefresh   bool
		expectedRetriable bool
	}{
		{"nil error", nil, false, false},
		{"unrelated error", errors.New("some error"), false, false},
		{"stale leadership triggers refresh", kerr.NotLeaderForPartition, true, true},
		{"replica unavailable triggers refresh", kerr.ReplicaNotAvailable, true, true},
		{"unknown topic triggers refresh", kerr.UnknownTopicOrPartition, true, true},
		{"retriable without a metadata implication", kerr.RequestTimedOut, false, true},
		{"non-retriable kafka error", kerr.IllegalSaslState, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refreshCalled := false
			retriable := HandleKafkaError(tt.err, func() { refreshCalled = true })
			assert.Equal(t, tt.expectedRefresh, refreshCalled)
			assert.Equal(t, tt.expectedRetriable, retriable)
		})
	}
}
