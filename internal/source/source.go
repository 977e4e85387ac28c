package source

// Sink receives audio blocks. *stream.Engine satisfies it.
type Sink interface {
	DeliverMono(samples []float32)
	DeliverStereo(left, right []float32)
	DeliverRawBytes(p []byte)
}

// Source is a producer that feeds a Sink until stopped
type Source interface {
	Start() error
	Stop() error
}
