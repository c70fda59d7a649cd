package chunks

// Status enumerates the lifecycle states of a chunk. A chunk's status
// only ever moves along the edges in validTransitions; an attempt to
// move anywhere else is a programming error and is rejected.
type Status int

const (
	StatusPending Status = iota
	StatusURLFetched
	StatusDownloadInProgress
	StatusDownloadSucceeded
	StatusProcessingSucceeded
	StatusDownloadFailed
	StatusProcessingFailed
	StatusDownloadRetry
	StatusCancelled
	StatusReleased
)

// Chunks whose data arrives inline with the statement response have no
// separate download step. They reach the same success/failure states
// without visiting StatusURLFetched.
const (
	StatusExtractSucceeded = StatusDownloadSucceeded
	StatusExtractFailed    = StatusDownloadFailed
)

var statusNames = [...]string{
	"PENDING",
	"URL_FETCHED",
	"DOWNLOAD_IN_PROGRESS",
	"DOWNLOAD_SUCCEEDED",
	"PROCESSING_SUCCEEDED",
	"DOWNLOAD_FAILED",
	"PROCESSING_FAILED",
	"DOWNLOAD_RETRY",
	"CANCELLED",
	"CHUNK_RELEASED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "<UNSET>"
	}
	return statusNames[s]
}

// validTransitions is the legal transition graph. StatusReleased is the
// only terminal state.
var validTransitions = map[Status][]Status{
	StatusPending:            {StatusURLFetched, StatusDownloadFailed, StatusReleased},
	StatusURLFetched:         {StatusDownloadInProgress, StatusDownloadSucceeded, StatusDownloadFailed, StatusCancelled, StatusReleased},
	StatusDownloadInProgress: {StatusDownloadSucceeded, StatusDownloadFailed, StatusCancelled, StatusReleased},
	StatusDownloadSucceeded:  {StatusProcessingSucceeded, StatusProcessingFailed, StatusReleased},
	StatusProcessingSucceeded: {StatusReleased},
	StatusDownloadFailed:      {StatusDownloadRetry, StatusReleased},
	StatusProcessingFailed:    {StatusReleased},
	StatusDownloadRetry:       {StatusURLFetched, StatusDownloadInProgress, StatusDownloadSucceeded, StatusDownloadFailed, StatusReleased},
	StatusCancelled:           {StatusReleased},
	StatusReleased:            {},
}

// ValidTransitionsFrom returns a copy of the legal target states for the
// given state.
func ValidTransitionsFrom(s Status) []Status {
	targets := validTransitions[s]
	out := make([]Status, len(targets))
	copy(out, targets)
	return out
}

// CanTransitionTo reports whether from -> to is a legal transition.
func CanTransitionTo(from Status, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
