// Package stream implements the fan-out engine: it accepts listener sessions,
// converts each delivered audio block once and sends it to every session in
// payload-sized chunks, evicting sessions whose sends fail.
//
// All work happens inside the producer's Deliver call. Sends never block: a
// listener that is not ready simply misses the block.
package stream
