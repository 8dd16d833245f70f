package time_test

import (
	"fmt"

	timestats "github.com/cwbudde/algo-salpa/stats/time"
)

func ExampleCalculate() {
	s := timestats.Calculate([]int16{3, -3, 0, 3, -3})
	fmt.Printf("rms=%.2f peak=%.0f zeros=%d\n", s.RMS, s.Peak, s.Zeros)

	// Output:
	// rms=2.68 peak=3 zeros=1
}

func ExampleStreaming() {
	var s timestats.Streaming
	s.Update([]int16{100, 102})
	s.Update([]int16{98, 100})
	m := s.Result()
	fmt.Printf("len=%d dc=%.1f max=%d@%d\n", m.Length, m.DC, m.Max, m.MaxPos)

	// Output:
	// len=4 dc=100.0 max=102@1
}
