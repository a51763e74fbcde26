package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

// Map applies a function to every element of an input sequence using at most
// limit goroutines. Results are yielded in completion order; callers which
// need a stable order must sort them.
type Map[T, R any] struct {
	ctx   context.Context
	limit int
	f     func(context.Context, T) (R, error)
}

type result[R any] struct {
	value R
	err   error
}

func NewMap[T, R any](ctx context.Context, limit int, f func(context.Context, T) (R, error)) *Map[T, R] {
	if limit <= 0 {
		limit = 1
	}
	return &Map[T, R]{
		ctx:   ctx,
		limit: limit,
		f:     f,
	}
}

// Iter runs the function over seq. Errors of the input sequence are passed
// through. Once the context is canceled no new work is started and results
// of the interrupted calls are dropped. Breaking the loop cancels the
// remaining calls.
func (m *Map[T, R]) Iter(seq iter.Seq2[T, error]) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		ctx, cancel := context.WithCancel(m.ctx)
		defer cancel()

		results := make(chan result[R])
		send := func(r result[R]) {
			select {
			case results <- r:
			case <-ctx.Done():
			}
		}

		go func() {
			defer close(results)
			var g errgroup.Group
			g.SetLimit(m.limit)
			for in, err := range seq {
				if ctx.Err() != nil {
					break
				}
				if err != nil {
					send(result[R]{err: err})
					continue
				}
				g.Go(func() error {
					value, err := m.f(ctx, in)
					if ctx.Err() != nil {
						return nil
					}
					send(result[R]{value: value, err: err})
					return nil
				})
			}
			_ = g.Wait()
		}()

		stopped := false
		for r := range results {
			if stopped {
				continue
			}
			if !yield(r.value, r.err) {
				stopped = true
				cancel()
			}
		}
	}
}
