package replicore

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// rateLimitedReader throttles reads through a shared token bucket, used to
// cap full-dump and archival I/O at the configured bytes/sec ceiling.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(context.Background(), n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// rateLimitedWriter throttles writes through the same shared token bucket.
type rateLimitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
}

func (w *rateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.limiter.WaitN(context.Background(), len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}
