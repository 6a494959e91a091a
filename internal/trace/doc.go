// Package trace records the life of debounce cycles and pull requests.
//
// A cycle starts when a debounce window closes and fans out into one
// request span per (document, server) item; a request that produces a
// report ends in a merge span on the owner loop.
//
// # Usage
//
//	pulldiag watch --trace=- --trace-level=request ./...
//
// # Levels
//
//   - LevelOff: No tracing
//   - LevelError: Only failed requests and dropped reports
//   - LevelCycle: Debounce cycles
//   - LevelRequest: Cycles and individual pull requests
//   - LevelDebug: Everything including merges
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeRequest, "pull", parentID)
//	defer span.End("")
package trace
