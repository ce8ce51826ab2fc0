// Package stats records named duration metrics. A Recorder accepts durations
// in milliseconds, converts them to seconds once, and fans them out to one or
// more Stores: the in-memory Engine (exported to Prometheus by Collector) and
// the OpenTelemetry OTelStore.
package stats
