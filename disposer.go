package netcopy

import (
	"log/slog"
	"sync"
)

// Runner executes fn away from the calling goroutine.
type Runner interface {
	Run(fn func())
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(fn func())

func (f RunnerFunc) Run(fn func()) { f(fn) }

// GoRunner runs every function on its own goroutine.
type GoRunner struct{}

func (GoRunner) Run(fn func()) { go fn() }

// Disposer expires handles in the background. Callers get control back immediately
// and learn about completion through an optional callback, which may run on another
// goroutine.
type Disposer struct {
	runner      Runner
	parallelism int
	logger      *slog.Logger

	// expired is called after each handle's Expire returns.
	expired func(Handle)

	wg sync.WaitGroup
}

// NewDisposer creates a Disposer. parallelism bounds concurrent expirations in DisposeAll.
func NewDisposer(runner Runner, parallelism int, logger *slog.Logger) *Disposer {
	if runner == nil {
		runner = GoRunner{}
	}
	if parallelism <= 0 {
		parallelism = DefaultDisposeParallelism
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Disposer{
		runner:      runner,
		parallelism: parallelism,
		logger:      logger,
	}
}

// Go runs fn through the runner and tracks it for Wait.
func (d *Disposer) Go(fn func()) {
	d.wg.Add(1)
	d.runner.Run(func() {
		defer d.wg.Done()
		fn()
	})
}

// Dispose expires h in the background, then calls onDone if it is not nil.
func (d *Disposer) Dispose(h Handle, onDone func()) {
	d.Go(func() {
		defer runCallback(onDone)
		d.expire(h)
	})
}

// DisposeAll expires every handle in the background, then calls onDone if it is not nil.
// A handle that fails or panics while expiring does not stop the others.
func (d *Disposer) DisposeAll(handles []Handle, onDone func()) {
	d.Go(func() {
		defer runCallback(onDone)
		d.expireAll(handles)
	})
}

// Wait blocks until every disposal started so far has finished.
func (d *Disposer) Wait() {
	d.wg.Wait()
}

func (d *Disposer) expireAll(handles []Handle) {
	if len(handles) == 0 {
		return
	}

	workers := d.parallelism
	if workers > len(handles) {
		workers = len(handles)
	}

	jobs := make(chan Handle, len(handles))
	for _, h := range handles {
		jobs <- h
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range jobs {
				d.expire(h)
			}
		}()
	}
	wg.Wait()

	d.logger.Debug("expired handles", "count", len(handles))
}

func (d *Disposer) expire(h Handle) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while expiring handle", logID(h.Identifier()), "panic", r)
		}
	}()

	h.Expire()
	if d.expired != nil {
		d.expired(h)
	}
}

func runCallback(fn func()) {
	if fn != nil {
		fn()
	}
}
