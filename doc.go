// Package mistlakesql contains the result retrieval engine of the
// Mistlake SQL driver for Go.
//
// A statement's result arrives as a set of chunks: server assigned
// partitions of the result rows, each served either inline with the
// statement response or behind a short lived signed download URL. The
// engine downloads chunks concurrently, decodes their arrow IPC
// payloads into natively allocated record batches and exposes the rows
// through a forward only iterator.
//
// The building blocks live in internal packages:
//
//   - internal/chunks: the chunk lifecycle state machine, the download
//     task with retry and backoff, the arrow stream decoder and the row
//     iterator.
//   - internal/links: batched resolution of signed download links.
//   - internal/fetcher: the bounded concurrent worker pool the download
//     tasks run on.
//   - internal/compress: the named codecs chunk payloads may be
//     compressed with.
//
// The public errors package classifies failures, driverctx carries
// correlation identifiers through contexts, logger wraps structured
// logging and telemetry receives timing events. The protocol layer that
// produces chunk metadata and the client facing cursor API sit above
// this module.
package mistlakesql
