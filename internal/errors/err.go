package errors

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/mistlake/mistlake-sql-go/driverctx"
	mlerr "github.com/mistlake/mistlake-sql-go/errors"
)

type mistlakeError struct {
	err           error
	correlationId string
	connectionId  string
	errType       string
}

var _ error = (*mistlakeError)(nil)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newMistlakeError(ctx context.Context, msg string, err error) mistlakeError {
	// create an error with the new message
	if err == nil {
		err = errors.New(msg)
	} else {
		err = errors.WithMessage(err, msg)
	}

	// if the source error does not have a stack trace in its
	// error chain add a stack trace
	var st stackTracer
	if ok := errors.As(err, &st); !ok {
		err = errors.WithStack(err)
	}

	return mistlakeError{
		err:           err,
		correlationId: driverctx.CorrelationIdFromContext(ctx),
		connectionId:  driverctx.ConnIdFromContext(ctx),
		errType:       "unknown",
	}
}

func (e mistlakeError) Error() string {
	return fmt.Sprintf("mistlake: %s: %s", e.errType, e.err.Error())
}

func (e mistlakeError) Cause() error {
	return e.err
}

func (e mistlakeError) StackTrace() errors.StackTrace {
	var st stackTracer
	if ok := errors.As(e.err, &st); ok {
		return st.StackTrace()
	}

	return nil
}

func (e mistlakeError) CorrelationId() string {
	return e.correlationId
}

func (e mistlakeError) ConnectionId() string {
	return e.connectionId
}

// driverError covers programming faults and other non-recoverable driver
// side failures, e.g. a request for an illegal chunk state transition.
type driverError struct {
	mistlakeError
	isRetryable bool
}

var _ mlerr.MistlakeError = (*driverError)(nil)

func (e driverError) Is(err error) bool {
	return err == mlerr.DriverError
}

func (e driverError) Unwrap() error {
	return e.err
}

func (e driverError) IsRetryable() bool {
	return e.isRetryable
}

func NewDriverError(ctx context.Context, msg string, err error) *driverError {
	dbErr := newMistlakeError(ctx, msg, err)
	dbErr.errType = "driver error"
	return &driverError{mistlakeError: dbErr, isRetryable: false}
}

// requestError covers recoverable failures talking to external services:
// link resolution, HTTP transport and stream decode errors.
type requestError struct {
	mistlakeError
}

var _ mlerr.MistlakeError = (*requestError)(nil)

func (e requestError) Is(err error) bool {
	return err == mlerr.RequestError
}

func (e requestError) Unwrap() error {
	return e.err
}

func NewRequestError(ctx context.Context, msg string, err error) *requestError {
	dbErr := newMistlakeError(ctx, msg, err)
	dbErr.errType = "request error"
	return &requestError{mistlakeError: dbErr}
}

// downloadError is the base for terminal errors escaping a chunk
// download task.
type downloadError struct {
	mistlakeError
	queryId    string
	chunkIndex int64
}

func (e downloadError) QueryId() string {
	return e.queryId
}

func (e downloadError) ChunkIndex() int64 {
	return e.chunkIndex
}

func (e downloadError) Unwrap() error {
	return e.err
}

// interruptedError indicates the task was cancelled while waiting to
// retry. Distinct from retriesExhaustedError so that callers can tell
// cancellation apart from a chunk that genuinely cannot be downloaded.
type interruptedError struct {
	downloadError
}

var _ mlerr.DownloadError = (*interruptedError)(nil)

func (e interruptedError) Is(err error) bool {
	return err == mlerr.DownloadInterrupted
}

func NewDownloadInterruptedError(ctx context.Context, chunkIndex int64, err error) *interruptedError {
	dbErr := newMistlakeError(ctx, fmt.Sprintf("mistlake: download of chunk %d was interrupted", chunkIndex), err)
	dbErr.errType = "download interrupted"
	return &interruptedError{downloadError{
		mistlakeError: dbErr,
		queryId:       driverctx.QueryIdFromContext(ctx),
		chunkIndex:    chunkIndex,
	}}
}

// retriesExhaustedError is raised when a chunk download has failed
// MaxDownloadRetries times. It carries the last underlying cause.
type retriesExhaustedError struct {
	downloadError
	attempts int
}

var _ mlerr.RetriesExhaustedError = (*retriesExhaustedError)(nil)

func (e retriesExhaustedError) Is(err error) bool {
	return err == mlerr.RetriesExhausted
}

func (e retriesExhaustedError) Attempts() int {
	return e.attempts
}

func NewRetriesExhaustedError(ctx context.Context, chunkIndex int64, attempts int, err error) *retriesExhaustedError {
	dbErr := newMistlakeError(ctx, fmt.Sprintf("mistlake: chunk %d download failed after %d attempts", chunkIndex, attempts), err)
	dbErr.errType = "retries exhausted"
	return &retriesExhaustedError{
		downloadError: downloadError{
			mistlakeError: dbErr,
			queryId:       driverctx.QueryIdFromContext(ctx),
			chunkIndex:    chunkIndex,
		},
		attempts: attempts,
	}
}

// WrapErr wraps an error and adds a stack trace if not already present
func WrapErr(err error, msg string) error {
	var st stackTracer
	if ok := errors.As(err, &st); ok {
		return errors.WithMessage(err, msg)
	}

	return errors.Wrap(err, msg)
}

// WrapErrf wraps an error with a formatted message and adds a stack
// trace if not already present
func WrapErrf(err error, format string, args ...interface{}) error {
	var st stackTracer
	if ok := errors.As(err, &st); ok {
		return errors.WithMessagef(err, format, args...)
	}

	return errors.Wrapf(err, format, args...)
}
