package refresh

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Func performs one refresh exchange.
type Func[T any] func(ctx context.Context) (T, error)

// Stats counts coordinator activity since construction.
type Stats struct {
	// Executed is the number of refresh functions actually run.
	Executed uint64
	// Joined is the number of callers that received another caller's result.
	Joined uint64
	// InFlight is the number of refresh functions running now.
	InFlight int64
}

// Coordinator deduplicates concurrent refreshes. The zero value is not
// usable; call [NewCoordinator].
type Coordinator[T any] struct {
	group       singleflight.Group
	deduplicate bool

	executed atomic.Uint64
	joined   atomic.Uint64
	inFlight atomic.Int64
}

// NewCoordinator returns a Coordinator. With deduplicate false, Do simply
// calls fn.
func NewCoordinator[T any](deduplicate bool) *Coordinator[T] {
	return &Coordinator[T]{deduplicate: deduplicate}
}

// Do runs fn, or joins a call already running for key. joined reports
// whether the result came from another caller's run. fn never sees the
// caller's cancellation: if ctx ends first Do returns ctx.Err() and the run
// completes on its own, so a caller giving up is never mistaken for a
// rejected refresh. Without deduplication every call gets its own run.
func (c *Coordinator[T]) Do(ctx context.Context, key string, fn Func[T]) (result T, joined bool, err error) {
	var (
		led bool
		ch  <-chan singleflight.Result
	)
	if c.deduplicate {
		ch = c.group.DoChan(key, func() (any, error) {
			led = true
			v, _, err := c.run(context.WithoutCancel(ctx), fn)
			return v, err
		})
	} else {
		led = true
		own := make(chan singleflight.Result, 1)
		go func() {
			v, _, err := c.run(context.WithoutCancel(ctx), fn)
			own <- singleflight.Result{Val: v, Err: err}
		}()
		ch = own
	}

	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case res := <-ch:
		joined = !led
		if joined {
			c.joined.Add(1)
		}
		v, _ := res.Val.(T)
		return v, joined, res.Err
	}
}

func (c *Coordinator[T]) run(ctx context.Context, fn Func[T]) (T, bool, error) {
	c.executed.Add(1)
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	v, err := fn(ctx)
	return v, false, err
}

// Stats returns a point-in-time snapshot of the counters.
func (c *Coordinator[T]) Stats() Stats {
	return Stats{
		Executed: c.executed.Load(),
		Joined:   c.joined.Load(),
		InFlight: c.inFlight.Load(),
	}
}
