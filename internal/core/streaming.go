package core

// streaming.go prepares uploaded sources for the CSV reader without
// buffering the file:
//
//   - a leading UTF-8 byte order mark (Excel exports) is dropped
//   - invalid UTF-8 sequences become U+FFFD
//   - bytes consumed are counted for the completion log line
//
// The decoding is done by golang.org/x/text, so header matching never sees
// the BOM glued to "company_name".

import (
	"io"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CountingReader tracks how many bytes were read from the wrapped reader.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 {
	return r.read.Load()
}

// NewSourceReader strips a UTF-8 BOM and replaces invalid UTF-8.
func NewSourceReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
}

// WrapForStreaming applies the source transforms and counts raw bytes read.
func WrapForStreaming(r io.Reader) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r)
	return NewSourceReader(counter), counter
}
