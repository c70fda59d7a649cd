// Package telemetry receives timing events from the chunk download and
// iteration paths. Sinks are strictly fail-open: a sink that errors or
// panics must never affect the control flow of a download.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/mistlake/mistlake-sql-go/logger"
)

// Sink receives telemetry events from the result retrieval engine.
type Sink interface {
	// RecordDownloadLatency reports the wall clock time one chunk
	// download task took, success or failure alike.
	RecordDownloadLatency(elapsed time.Duration, chunkIndex int64, queryId string)

	// RecordChunkIteration reports the number of rows consumed from a
	// chunk when its iterator is closed.
	RecordChunkIteration(rows int64, chunkIndex int64, queryId string)
}

// NoopSink discards all events.
type NoopSink struct{}

var _ Sink = (*NoopSink)(nil)

func (NoopSink) RecordDownloadLatency(time.Duration, int64, string) {}
func (NoopSink) RecordChunkIteration(int64, int64, string)          {}

// LogSink writes events as debug log lines.
type LogSink struct {
	Lgr *logger.Logger
}

var _ Sink = (*LogSink)(nil)

func (s *LogSink) logger() *logger.Logger {
	if s.Lgr != nil {
		return s.Lgr
	}
	return logger.Log
}

func (s *LogSink) RecordDownloadLatency(elapsed time.Duration, chunkIndex int64, queryId string) {
	s.logger().Debug().
		Str("queryId", queryId).
		Int64("chunkIdx", chunkIndex).
		Dur("elapsed", elapsed).
		Msg("chunk download processed")
}

func (s *LogSink) RecordChunkIteration(rows int64, chunkIndex int64, queryId string) {
	s.logger().Debug().
		Str("queryId", queryId).
		Int64("chunkIdx", chunkIndex).
		Int64("rows", rows).
		Msg("chunk iteration finished")
}

// Aggregator keeps running totals. Safe for concurrent use.
type Aggregator struct {
	downloads         atomic.Int64
	downloadNanos     atomic.Int64
	iterations        atomic.Int64
	rowsIterated      atomic.Int64
	slowestDownloadNs atomic.Int64
}

var _ Sink = (*Aggregator)(nil)

func (a *Aggregator) RecordDownloadLatency(elapsed time.Duration, chunkIndex int64, queryId string) {
	a.downloads.Add(1)
	a.downloadNanos.Add(int64(elapsed))

	for {
		cur := a.slowestDownloadNs.Load()
		if int64(elapsed) <= cur || a.slowestDownloadNs.CompareAndSwap(cur, int64(elapsed)) {
			return
		}
	}
}

func (a *Aggregator) RecordChunkIteration(rows int64, chunkIndex int64, queryId string) {
	a.iterations.Add(1)
	a.rowsIterated.Add(rows)
}

type Stats struct {
	Downloads       int64
	DownloadTime    time.Duration
	SlowestDownload time.Duration
	Iterations      int64
	RowsIterated    int64
}

func (a *Aggregator) Snapshot() Stats {
	return Stats{
		Downloads:       a.downloads.Load(),
		DownloadTime:    time.Duration(a.downloadNanos.Load()),
		SlowestDownload: time.Duration(a.slowestDownloadNs.Load()),
		Iterations:      a.iterations.Load(),
		RowsIterated:    a.rowsIterated.Load(),
	}
}

// Guard wraps a sink so that panics in sink implementations are
// swallowed and logged instead of unwinding into the download path.
func Guard(s Sink) Sink {
	if s == nil {
		return NoopSink{}
	}
	return &guardedSink{inner: s}
}

type guardedSink struct {
	inner Sink
}

var _ Sink = (*guardedSink)(nil)

func (g *guardedSink) RecordDownloadLatency(elapsed time.Duration, chunkIndex int64, queryId string) {
	defer recoverSinkPanic()
	g.inner.RecordDownloadLatency(elapsed, chunkIndex, queryId)
}

func (g *guardedSink) RecordChunkIteration(rows int64, chunkIndex int64, queryId string) {
	defer recoverSinkPanic()
	g.inner.RecordChunkIteration(rows, chunkIndex, queryId)
}

func recoverSinkPanic() {
	if r := recover(); r != nil {
		logger.Warn().Msgf("mistlake: telemetry sink panicked: %v", r)
	}
}
