// Package spectrum evaluates single DFT terms with the Goertzel recurrence.
//
// It complements a full FFT when only a handful of known frequencies
// matter, such as a stimulation rate and its harmonics, and those do not
// fall on FFT bin centers.
package spectrum
