// Package ring provides fixed-capacity, power-of-two circular views onto an
// unbounded time-indexed int16 sample stream.
//
// A Stream is addressed by an absolute int64 time reference; the low k bits
// select the slot. Callers must not touch an index more than Len() samples
// behind the most recently written one: that slot has already been reused.
// No bounds checking is done beyond the mask.
//
// Streams either own their storage (New) or borrow a strided view into an
// externally owned, channel-interleaved array (NewView, Interleaved). A
// borrowed view is only valid while the backing array is alive.
package ring
