// Package demux is a reusable engine for building stream demultiplexers:
// components that consume one ordered byte stream and split it into several
// typed, timed output streams.
//
// The engine does not parse any container syntax. A format-specific
// [Handler] is plugged into a [Demuxer] and receives input chunks through
// HandleBuffer; the engine takes care of choosing between pull and push
// scheduling, skipping leading bytes on the push path, de-duplicating the
// flush events provoked by its own byte seeks, routing events and queries,
// staging output streams ([Demuxer.DeclareStream],
// [Demuxer.CommitPendingStreams]) and aggregating per-output flow results.
//
// Collaborators are expressed as interfaces: [Upstream] is the byte source,
// [Downstream] is the consumer attached to each output [Stream].
package demux
