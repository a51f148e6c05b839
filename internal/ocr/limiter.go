package ocr

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds concurrent backend calls and paces how fast new ones start.
// A nil Limiter or a zero field disables that bound.
type Limiter struct {
	sem  *semaphore.Weighted
	pace *rate.Limiter
}

// NewLimiter allows maxConcurrent calls in flight and perSecond call starts.
func NewLimiter(maxConcurrent int64, perSecond float64) *Limiter {
	l := &Limiter{}
	if maxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(maxConcurrent)
	}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		l.pace = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return l
}

func (l *Limiter) Do(ctx context.Context, fn func() (Output, error)) (Output, error) {
	if l == nil {
		return fn()
	}
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return Output{}, err
		}
		defer l.sem.Release(1)
	}
	if l.pace != nil {
		if err := l.pace.Wait(ctx); err != nil {
			return Output{}, err
		}
	}
	return fn()
}
