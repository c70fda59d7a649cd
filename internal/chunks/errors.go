package chunks

import "fmt"

var errChunkNoLink = "mistlake: chunk has no download link"
var errChunkDownloadFailed = "mistlake: chunk download failed"
var errChunkDecodeFailed = "mistlake: error decoding chunk byte stream"
var errChunkNotDecoded = "mistlake: chunk has no decoded data"
var errChunkInjectedFailure = "mistlake: injected download failure"
var errChunkLinkResolution = "mistlake: failed to resolve chunk download link"
var errChunkIteratorNotStarted = "mistlake: iterator read before first call to Next"
var errChunkInterrupted = "mistlake: download was interrupted"

func errChunkFailureMessage(chunkIndex int64, queryId string) string {
	return fmt.Sprintf("mistlake: chunk %d of query %s download failed", chunkIndex, queryId)
}

func errChunkIllegalTransition(from Status, to Status) string {
	return fmt.Sprintf("mistlake: illegal chunk state transition %s -> %s", from, to)
}

func errChunkBadHTTPStatus(status string) string {
	return fmt.Sprintf("mistlake: chunk download returned http status %s", status)
}

func errChunkInvalidColumnIndex(index int) string {
	return fmt.Sprintf("mistlake: invalid column index: %d", index)
}
