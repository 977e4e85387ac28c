// Package metrics defines the Prometheus metrics exported by the fan-out
// service: listener sessions, fan-out throughput and drops, ingest packets and
// the HTTP API.
package metrics
