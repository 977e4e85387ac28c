// Package server implements the HTTP monitoring API: health, connected
// listener sessions, fan-out and ingest statistics, the active configuration
// and Prometheus metrics.
package server
