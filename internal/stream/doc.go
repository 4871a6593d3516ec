// Package stream provides the backpressure pipeline that converts a lazy,
// producer-paced sequence of model tokens into a consumer-paced,
// memory-bounded sequence of batched strings.
//
// The stages compose over token channels:
//
//	tokens := provider.Stream(ctx, prompt)
//	tokens = pipeline.ApplyBackpressure(ctx, tokens)
//	tokens = pipeline.WithMemoryMonitoring(ctx, tokens)
//	batches := pipeline.Optimize(ctx, tokens, pipeline.OptimalBufferSize(expected))
//
// ApplyBackpressure is deliberately lossy: under sustained overload it drops
// the oldest buffered token rather than growing without bound or blocking
// the producer. Drops are metered, never surfaced as errors.
package stream
