package training

import "sync"

type completedTask[T any] struct {
	Result T
	Error  error
}

// runInPool runs worker over every item in queue with at most maxWorkers
// goroutines and writes each outcome to completed, closing it when the queue
// is drained. Failures are reported per item, never fatal to the pool.
func runInPool[In any, Out any](worker func(In) (Out, error), queue chan In, completed chan completedTask[Out], maxWorkers int) {
	workers := min(len(queue), maxWorkers)

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for {
					next, ok := <-queue
					if !ok {
						return
					}

					res, err := worker(next)
					if err != nil {
						completed <- completedTask[Out]{Error: err}
					} else {
						completed <- completedTask[Out]{Result: res, Error: nil}
					}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}
