package bot

import "sync"

// TaskGroup owns fire-and-forget tasks. Results are never awaited; the group
// exists so shutdown can drain outstanding work.
type TaskGroup struct {
	wg sync.WaitGroup
}

// Go runs fn on its own goroutine and tracks it until it returns.
func (g *TaskGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait blocks until every tracked task has finished.
func (g *TaskGroup) Wait() {
	g.wg.Wait()
}
