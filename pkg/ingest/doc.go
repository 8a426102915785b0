// Package ingest hosts the Kafka-facing collaborators that keyflow's core
// does not own: topic provisioning, a single-partition reader client, offset
// commit with retry, and Kafka error classification. The core package
// (github.com/grafana/keyflow/pkg/keyflow) never imports this package; it is
// wired together one layer up, in modules/partitionflow.
package ingest
