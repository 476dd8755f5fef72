// Package ratelimit throttles data channel transfers.
//
// It wraps golang.org/x/time/rate so that readers and writers consume one
// token per byte. Limits are shared: one Limiter can cap a single session or
// every session on the server at once.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxChunk bounds a single wait so that small limits still make progress
// and large buffers do not exceed the bucket.
const maxChunk = 32 * 1024

// Limiter caps throughput in bytes per second. A nil *Limiter is unlimited.
type Limiter struct {
	lim   *rate.Limiter
	chunk int
}

// New returns a limiter allowing bytesPerSecond, with a burst of one
// second worth of data. It returns nil when bytesPerSecond <= 0.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(bytesPerSecond)
	if int64(burst) != bytesPerSecond || burst < 0 {
		burst = int(^uint(0) >> 1)
	}
	chunk := maxChunk
	if burst < chunk {
		chunk = burst
	}
	return &Limiter{
		lim:   rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		chunk: chunk,
	}
}

// Limit returns the configured rate in bytes per second, or 0 if l is nil.
func (l *Limiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

func (l *Limiter) wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	return l.lim.WaitN(ctx, n)
}

type reader struct {
	ctx      context.Context
	r        io.Reader
	limiters []*Limiter
	chunk    int
}

// NewReader returns r throttled by every non-nil limiter. If all limiters
// are nil, r is returned unchanged.
func NewReader(ctx context.Context, r io.Reader, limiters ...*Limiter) io.Reader {
	active, chunk := compact(limiters)
	if len(active) == 0 {
		return r
	}
	return &reader{ctx: ctx, r: r, limiters: active, chunk: chunk}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > r.chunk {
		p = p[:r.chunk]
	}
	n, err := r.r.Read(p)
	for _, l := range r.limiters {
		if werr := l.wait(r.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

type writer struct {
	ctx      context.Context
	w        io.Writer
	limiters []*Limiter
	chunk    int
}

// NewWriter returns w throttled by every non-nil limiter. If all limiters
// are nil, w is returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiters ...*Limiter) io.Writer {
	active, chunk := compact(limiters)
	if len(active) == 0 {
		return w
	}
	return &writer{ctx: ctx, w: w, limiters: active, chunk: chunk}
}

func (w *writer) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n := len(p) - total
		if n > w.chunk {
			n = w.chunk
		}
		for _, l := range w.limiters {
			if err := l.wait(w.ctx, n); err != nil {
				return total, err
			}
		}
		written, err := w.w.Write(p[total : total+n])
		total += written
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// compact drops nil limiters and returns the smallest chunk among the rest.
func compact(limiters []*Limiter) ([]*Limiter, int) {
	var active []*Limiter
	chunk := maxChunk
	for _, l := range limiters {
		if l == nil {
			continue
		}
		active = append(active, l)
		if l.chunk < chunk {
			chunk = l.chunk
		}
	}
	return active, chunk
}
