package chunks

import (
	"time"
)

// ChunkLink is a short lived signed URL authorizing download of one
// chunk's bytes, plus any per request headers the server requires.
type ChunkLink struct {
	URL     string
	Headers map[string]string
	Expiry  time.Time
}

// IsExpired reports whether the link should no longer be used. The
// safety margin treats a link as invalid slightly before its actual
// expiry so that a download never starts on the edge of expiration.
func (l *ChunkLink) IsExpired(now time.Time, safetyMargin time.Duration) bool {
	if l == nil {
		return true
	}
	return !l.Expiry.Add(-safetyMargin).After(now)
}
