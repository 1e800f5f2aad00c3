// Package streamer turns orchestrator progress into an ordered delivery
// sequence. It fans each event out to every attached sink under one lock,
// so all sinks observe the same total order; per-run causal order is already
// fixed by the emitter's sequence numbers. Sinks are swappable: the live
// connection manager, metrics, the run recorder, and a redis relay all
// attach here without the orchestrator knowing any of them.
package streamer

import (
	"sync"

	"go-baton/internal/core/ports"
	"go-baton/internal/domain"

	"github.com/hashicorp/go-hclog"
)

type Streamer struct {
	logger hclog.Logger

	mu    sync.Mutex
	sinks []ports.EventSink
}

func New(logger hclog.Logger, sinks ...ports.EventSink) *Streamer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Streamer{logger: logger, sinks: sinks}
}

// Attach registers an additional sink. Events published afterwards reach it.
func (s *Streamer) Attach(sink ports.EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Publish forwards the event to every sink in attachment order.
func (s *Streamer) Publish(event domain.ExecutionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Trace("event", "run", event.RunID, "step", event.StepID, "seq", event.Seq, "type", event.Type)
	for _, sink := range s.sinks {
		sink.Publish(event)
	}
}
