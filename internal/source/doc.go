// Package source produces the audio blocks the fan-out engine delivers: a UDP
// ingest server for external producers and a tone generator.
//
// Each source runs a single goroutine that calls the Sink, so deliveries are
// never concurrent.
package source
