// Package telemetry provides the fire-and-forget metrics sink used by the
// session registry, memory optimizer, and streaming pipeline.
package telemetry
