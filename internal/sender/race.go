// internal/sender/race.go
package sender

import (
	"context"
	"sync"
)

// raceResult carries one strategy's resolution through the race channel.
type raceResult[T any] struct {
	value    T
	err      error
	strategy string
}

// strategyFunc is a cancellable operation participating in a race.
type strategyFunc[T any] func(ctx context.Context) (T, error)

// namedStrategy pairs a strategy with a label for logging and metrics.
type namedStrategy[T any] struct {
	name string
	run  strategyFunc[T]
}

// raceFirst runs every strategy concurrently and returns the first
// resolution, success or failure. The losers are cancelled and the call
// does not return until every strategy goroutine has exited, so nothing
// keeps running past the caller.
func raceFirst[T any](ctx context.Context, strategies ...namedStrategy[T]) (T, string, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan raceResult[T], len(strategies))
	var wg sync.WaitGroup
	for _, s := range strategies {
		wg.Add(1)
		go func(s namedStrategy[T]) {
			defer wg.Done()
			value, err := s.run(raceCtx)
			results <- raceResult[T]{value: value, err: err, strategy: s.name}
		}(s)
	}

	// The channel is buffered to len(strategies), so losers cancelled after
	// the first resolution never block on their final send.
	winner := <-results
	cancel()
	wg.Wait()

	return winner.value, winner.strategy, winner.err
}
