package pipeline

// Signal is a cooperative instruction raised by a handler.
type Signal string

// StopPipeline stops the run once the step that raised it has finished. The
// output of that step is still merged.
const StopPipeline Signal = "StopPipeline"

// Signal records sig. Signals are kept for the lifetime of the pipeline and
// are not cleared between runs.
func (p *Pipeline) Signal(sig Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.signals[sig]; ok {
		return
	}
	p.signals[sig] = struct{}{}
	p.signalOrder = append(p.signalOrder, sig)
}

// Signals returns the signals raised so far, in the order first raised.
func (p *Pipeline) Signals() []Signal {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]Signal(nil), p.signalOrder...)
}

// HasSignal reports whether sig has been raised.
func (p *Pipeline) HasSignal(sig Signal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.signals[sig]
	return ok
}

// Stopped reports whether StopPipeline has been raised.
func (p *Pipeline) Stopped() bool {
	return p.HasSignal(StopPipeline)
}
