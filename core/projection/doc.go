// Package projection maintains multi projections: payloads folded from the
// whole event stream, for read models that span many tags.
//
// Events close to now may still be joined by late events with earlier
// positions. An [Actor] therefore keeps two views. The safe state covers
// only events older than the safe window and is cached and snapshotted; the
// unsafe state additionally folds everything buffered and is rebuilt on
// every read.
//
// With [Options.EnableDynamicSafeWindow] the window grows with the lag
// observed on the live stream:
//
//	ema    = alpha*batchLagMs + (1-alpha)*max(0, ema - decayPerSecond*elapsedSeconds)
//	window = SafeWindow + min(MaxExtraSafeWindow, ema)
//
// Snapshots serialize the safe state as gzip compressed JSON. Large ones are
// written to a [BlobAccessor] and referenced from the envelope.
package projection
