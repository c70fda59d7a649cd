// Package client builds the HTTP client used for chunk downloads. The
// client retries transient network failures itself; the download task's
// own retry loop is reserved for higher level failures such as bad
// status codes, decode errors and expired links.
package client

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mistlake/mistlake-sql-go/logger"
)

const (
	transportRetryMax     = 4
	transportRetryWaitMin = 500 * time.Millisecond
	transportRetryWaitMax = 2 * time.Second
)

// NewDownloadClient returns an *http.Client whose transport retries
// transient network errors and 5xx responses with backoff.
func NewDownloadClient(lgr *logger.Logger) *http.Client {
	if lgr == nil {
		lgr = logger.Log
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = transportRetryMax
	rc.RetryWaitMin = transportRetryWaitMin
	rc.RetryWaitMax = transportRetryWaitMax
	rc.Logger = &leveledLogger{lgr}

	return rc.StandardClient()
}

// leveledLogger adapts our zerolog based logger to the
// retryablehttp.LeveledLogger interface.
type leveledLogger struct {
	lgr *logger.Logger
}

var _ retryablehttp.LeveledLogger = (*leveledLogger)(nil)

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.lgr.Error().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.lgr.Info().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.lgr.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.lgr.Warn().Fields(keysAndValues).Msg(msg)
}
