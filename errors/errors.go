// Package errors defines the public error taxonomy of the result
// retrieval engine. Callers use the sentinel values with errors.Is() to
// classify a failure and the interfaces to extract diagnostic ids.
package errors

import "github.com/pkg/errors"

// value to be used with errors.Is() to determine if an error chain contains a request error
var RequestError error = errors.New("Request Error")

// value to be used with errors.Is() to determine if an error chain contains a driver fault
var DriverError error = errors.New("Driver Error")

// value to be used with errors.Is() to determine if a download task was
// interrupted by cancellation rather than failing on its own
var DownloadInterrupted error = errors.New("Download Interrupted")

// value to be used with errors.Is() to determine if a download task gave
// up after exhausting its retry budget
var RetriesExhausted error = errors.New("Retries Exhausted")

// Error messages
const (
	ErrLinkExpired            = "mistlake: provided download link is expired"
	ErrChunkDownloadFailed    = "mistlake: chunk download failed"
	ErrChunkDecodeFailed      = "mistlake: error decoding chunk byte stream"
	ErrLinkResolutionFailed   = "mistlake: failed to resolve chunk download link"
	ErrIllegalStateTransition = "mistlake: illegal chunk state transition"
)

// Base interface for engine errors
type MistlakeError interface {
	// Descriptive message describing the error
	Error() string

	// User specified id to track what happens under a request. Appears in
	// log messages as field corrId. See driverctx.NewContextWithCorrelationId()
	CorrelationId() string

	// Internal id to track what happens under a connection.
	// Appears in log messages as field connId.
	ConnectionId() string

	// Stack trace associated with the error. May be nil.
	StackTrace() errors.StackTrace

	// Underlying causative error. May be nil.
	Cause() error
}

// An error produced while downloading or decoding one result chunk.
type DownloadError interface {
	MistlakeError

	// Internal id to track what happens under a query.
	// Appears in log messages as field queryId.
	QueryId() string

	// Index of the chunk whose download failed.
	ChunkIndex() int64
}

// A terminal download error carrying the number of attempts made before
// the task gave up.
type RetriesExhaustedError interface {
	DownloadError

	Attempts() int
}
