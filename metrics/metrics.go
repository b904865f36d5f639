// Package metrics defines the recording contract for agentgate
// instrumentation, with prometheus and no-op implementations.
package metrics

import "time"

// Recorder receives counter and latency observations from the payment
// core. Implementations must be safe for concurrent use.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
