package broker

import "math"

// BackoffDelay is the pure reconnection backoff function (§4.5):
//
//	delay(n, initial, max, mult) = min(initial * mult^n, max)
//
// n is the zero-based attempt index. Required properties (P4):
// delay(0) = min(initial, max); delay is non-decreasing in n; delay(n)
// never exceeds max; delay eventually saturates at max.
func BackoffDelay(n int, initial, maxDelay, mult float64) float64 {
	d := initial * math.Pow(mult, float64(n))
	if d > maxDelay {
		return maxDelay
	}
	return d
}
