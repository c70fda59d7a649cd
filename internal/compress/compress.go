// Package compress provides the named decompression codecs chunk
// payloads may be compressed with. The codec for a statement's chunks is
// chosen by the server and supplied per chunk by the orchestrator.
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type Codec string

const (
	None Codec = "none"
	Lz4  Codec = "lz4"
	Zstd Codec = "zstd"
	Gzip Codec = "gzip"
)

func (c Codec) String() string {
	return string(c)
}

// Lookup resolves a codec name from chunk metadata. The empty string is
// treated as no compression.
func Lookup(name string) (Codec, error) {
	switch Codec(name) {
	case None, "":
		return None, nil
	case Lz4:
		return Lz4, nil
	case Zstd:
		return Zstd, nil
	case Gzip:
		return Gzip, nil
	default:
		return None, fmt.Errorf("mistlake: unknown compression codec: %s", name)
	}
}

// NewReader wraps r so that reads return the decompressed payload.
// The returned reader must be closed by the caller.
func (c Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case None, "":
		return io.NopCloser(r), nil
	case Lz4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case Gzip:
		return gzip.NewReader(r)
	default:
		return nil, fmt.Errorf("mistlake: unknown compression codec: %s", c)
	}
}
