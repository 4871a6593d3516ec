// Package gateway provides the HTTP surface that connects callers to the
// session registry, memory optimizer, and streaming pipeline.
package gateway
