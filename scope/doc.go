// Package scope tracks the nesting of timed segments within one unit of work
// (a web request, a background job). Each unit of work owns a Stack that is
// carried in its context.Context; stacks are never shared between units of
// work, so concurrent requests cannot corrupt each other's nesting.
//
// A segment is opened with Push and closed with Pop using the Handle Push
// returned. Pops must follow stack discipline; a Pop for a handle that is not
// the innermost open segment unwinds everything above it and reports
// ErrMismatchedPop. When the unit of work ends, Finish closes any segments
// still open and returns the completed Trace.
//
// When an OpenTelemetry tracer is configured each segment is also exported as
// a client span whose timestamps are the segment's own start and end times.
package scope
