// Package keyflow implements the partition flow: a concurrency-and-offset
// coordination engine that runs independent keyed state machines ("key
// flows") over the records of a single partitioned-log partition, and
// decides record-by-record the highest offset that is safe to commit back
// to the broker.
//
// keyflow does not talk to a broker or to persistent storage itself. It is
// driven by a host that feeds it record batches (PartitionFlow.Apply) and
// composes with two collaborators the host supplies: KeyStateOf, which
// builds and recovers per-key state, and the KeyFlow functions that state
// produces to fold records.
package keyflow
