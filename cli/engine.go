package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santiagomed/forge/logger"
)

var ErrEngineStopped = errors.New("engine is shut down")

// Result is the outcome of one ExecutionRequest. Output is printed by the interface.
type Result struct {
	Name   string
	Output string
	Err    error
}

type ExecutionRequest struct {
	Name       string
	Run        func(ctx context.Context) (string, error)
	ResultChan chan Result
	CreatedAt  time.Time
}

// Engine runs session operations off the UI goroutine. Each request gets its own
// timeout; with a single worker requests run in submission order.
type Engine struct {
	logger       logger.Logger
	requests     chan ExecutionRequest
	workers      int
	timeout      time.Duration
	workerWG     sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewEngine(l logger.Logger, workers int, timeout time.Duration) *Engine {
	if l == nil {
		l = logger.NewNullLogger()
	}
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		logger:       l.WithField("component", "engine"),
		requests:     make(chan ExecutionRequest, 16),
		workers:      workers,
		timeout:      timeout,
		shutdownChan: make(chan struct{}),
	}
}

func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.workerWG.Add(1)
		go e.worker(ctx)
	}
}

func (e *Engine) worker(ctx context.Context) {
	defer e.workerWG.Done()
	for {
		select {
		case req := <-e.requests:
			req.ResultChan <- e.run(ctx, req)
			close(req.ResultChan)
		case <-ctx.Done():
			return
		case <-e.shutdownChan:
			return
		}
	}
}

func (e *Engine) run(ctx context.Context, req ExecutionRequest) Result {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	e.logger.Debug(fmt.Sprintf("Running %s, queued for %v", req.Name, time.Since(req.CreatedAt)))
	start := time.Now()
	out, err := req.Run(ctx)
	if err != nil {
		e.logger.Warn(fmt.Sprintf("%s failed after %v: %v", req.Name, time.Since(start), err))
	}
	return Result{Name: req.Name, Output: out, Err: err}
}

// AddRequest queues run. The returned channel receives exactly one Result; after
// Shutdown that result carries ErrEngineStopped.
func (e *Engine) AddRequest(name string, run func(ctx context.Context) (string, error)) chan Result {
	resultChan := make(chan Result, 1)
	stopped := func() chan Result {
		resultChan <- Result{Name: name, Err: ErrEngineStopped}
		close(resultChan)
		return resultChan
	}

	select {
	case <-e.shutdownChan:
		return stopped()
	default:
	}
	select {
	case e.requests <- ExecutionRequest{
		Name:       name,
		Run:        run,
		ResultChan: resultChan,
		CreatedAt:  time.Now(),
	}:
		return resultChan
	case <-e.shutdownChan:
		return stopped()
	}
}

func (e *Engine) Shutdown(timeout time.Duration) {
	e.shutdownOnce.Do(func() { close(e.shutdownChan) })

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("All workers shut down gracefully")
	case <-time.After(timeout):
		e.logger.Warn("Shutdown timed out, some workers may still be running")
	}
}
