package ingest

import "github.com/twmb/franz-go/pkg/kerr"

func kerrFromCode(code int16) error {
	if code == 0 {
		return nil
	}
	return kerr.ErrorForCode(code)
}

// HandleKafkaError classifies err as retriable or not, invoking refreshMeta
// when the error indicates the client's view of partition leadership may be
// stale. It never returns an error itself: callers use the retriable bool to
// decide whether to retry.
func HandleKafkaError(err error, refreshMeta func()) (retriable bool) {
	if err == nil {
		return false
	}

	switch {
	case kerr.IsRetriable(err):
		switch err { //nolint:errorlint // kerr errors are sentinel values, compared by identity upstream too.
		case kerr.NotLeaderForPartition, kerr.ReplicaNotAvailable, kerr.UnknownLeaderEpoch,
			kerr.LeaderNotAvailable, kerr.BrokerNotAvailable, kerr.UnknownTopicOrPartition,
			kerr.NetworkException, kerr.NotCoordinator:
			refreshMeta()
		}
		return true
	default:
		return false
	}
}
