// Package pipeline runs an ordered list of named steps that each read and extend a shared context.
//
// Steps are registered on a Pipeline in the order they should run. Each step wraps a handler that receives a
// private copy of the current context and returns a fragment. The pipeline merges every fragment into its context
// before the next step starts: nested maps are merged key by key, slices are concatenated, and every other value
// is replaced. Steps never run concurrently.
//
// A run can be narrowed with a positional slice of the registry, an include list or an exclude list. Steps may
// declare the steps they depend on; a run whose selected sequence misses a dependency, or orders it after the step
// that needs it, is rejected before anything executes.
//
// The pipeline stops on the first failing step and returns its error unchanged. The failure is written to the run
// log and the log is flushed before returning, and the context merged by the steps that succeeded stays available
// through Context. A handler can also end a run early, without failing it, by raising the StopPipeline signal.
package pipeline
