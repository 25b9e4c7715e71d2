// Package iometer throttles request body ingestion to a configured
// bytes-per-second ceiling so that a single PutObject or UploadPart
// cannot monopolize disk and database throughput.
package iometer

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const burstLimit = 4 * 1024 * 1024 // 4MiB

// ThrottledReader wraps an io.Reader, delaying each Read's return until
// the configured rate limit has admitted that many bytes.
type ThrottledReader struct {
	reader  io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledReader wraps r with a limiter admitting bytesPerSec bytes
// per second. A bytesPerSec of zero or less disables throttling.
func NewThrottledReader(ctx context.Context, r io.Reader, bytesPerSec float64) *ThrottledReader {
	tr := &ThrottledReader{reader: r, ctx: ctx}
	if bytesPerSec > 0 {
		tr.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burstLimit)
	}
	return tr
}

// Read reads from the underlying reader and, when a limiter is
// configured, blocks until the limiter admits the bytes just read.
func (tr *ThrottledReader) Read(p []byte) (n int, err error) {
	n, err = tr.reader.Read(p)
	if n > 0 && tr.limiter != nil {
		if waitErr := tr.limiter.WaitN(tr.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
