package textgen

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

// Source produces one of the sequences merged by Merge. ctx is cancelled
// when the merge is abandoned.
type Source[T any] func(ctx context.Context) iter.Seq2[T, error]

// FromSeq adapts a sequence that does not need the merge context.
func FromSeq[T any](seq iter.Seq2[T, error]) Source[T] {
	return func(context.Context) iter.Seq2[T, error] { return seq }
}

// Merge drives every source on its own goroutine and yields their values in
// arrival order. Values of one source keep their order. The merged sequence
// ends once all sources ended. The first source error is yielded right away
// and ends the sequence: the other sources see their context cancelled and
// are not waited for. Stopping the iteration early cancels them as well.
func Merge[T any](ctx context.Context, sources ...Source[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		values := make(chan T)
		failed := make(chan error, 1)
		for _, src := range sources {
			g.Go(func() error {
				for v, err := range src(gctx) {
					if err != nil {
						select {
						case failed <- err:
						default:
						}
						return err
					}
					select {
					case values <- v:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}
		finished := make(chan struct{})
		go func() {
			_ = g.Wait()
			close(finished)
		}()

		var zero T
		for {
			select {
			case v := <-values:
				if !yield(v, nil) {
					return
				}
			case err := <-failed:
				yield(zero, err)
				return
			case <-finished:
				select {
				case err := <-failed:
					yield(zero, err)
				default:
					if err := ctx.Err(); err != nil {
						yield(zero, err)
					}
				}
				return
			}
		}
	}
}
