package agentgate

import (
	"github.com/agentgate/agentgate/logger"
	"github.com/agentgate/agentgate/metrics"
	"github.com/agentgate/agentgate/types"
)

type Option func(*gateOptions)

// gateOptions collects cross-cutting dependencies shared by every
// component a Gate builds.
type gateOptions struct {
	log     logger.Logger
	metrics metrics.Recorder
	clock   types.Clock
}

func WithLogger(l logger.Logger) Option {
	return func(o *gateOptions) {
		o.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(o *gateOptions) {
		o.metrics = r
	}
}

func WithClock(c types.Clock) Option {
	return func(o *gateOptions) {
		o.clock = c
	}
}
