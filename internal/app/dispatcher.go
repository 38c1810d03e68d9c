package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"insta_spider/internal/crawl"
	targetqueue "insta_spider/internal/target_queue"
)

// Runner crawls one entity to completion.
type Runner interface {
	Run(ctx context.Context, entity string) crawl.Outcome
}

// Dispatcher fans targets out over a fixed number of workers. Each worker
// takes the next entity from the queue and runs it to completion before
// taking another.
type Dispatcher struct {
	runner  Runner
	workers int
	logger  *slog.Logger
}

func NewDispatcher(runner Runner, workers int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{runner: runner, workers: workers, logger: logger}
}

// Summary aggregates the outcomes of one dispatch.
type Summary struct {
	Targets int
	Items   int
	Classes map[crawl.Class]int
	Elapsed time.Duration
	// Unfinished lists targets whose run was cut short by cancellation.
	Unfinished []string
}

func (s Summary) Failures() int {
	n := 0
	for c, count := range s.Classes {
		if c.Failure() {
			n += count
		}
	}
	return n
}

// Report renders the summary as a single notification line.
func (s Summary) Report(pass string) string {
	names := make([]string, 0, len(s.Classes))
	for c, n := range s.Classes {
		names = append(names, fmt.Sprintf("%s=%d", c, n))
	}
	sort.Strings(names)
	return fmt.Sprintf("%s finished in %s: %d targets, %d items, %d failed (%s)",
		pass, s.Elapsed.Round(time.Second), s.Targets, s.Items, s.Failures(), strings.Join(names, ", "))
}

func (d *Dispatcher) Dispatch(ctx context.Context, queue *targetqueue.TargetQueue) Summary {
	start := time.Now()
	summary := Summary{Classes: make(map[crawl.Class]int)}
	var mu sync.Mutex

	workers := min(d.workers, max(queue.Size(), 1))
	d.logger.Info("dispatching", "targets", queue.Size(), "workers", workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			d.worker(ctx, workerID, queue, func(out crawl.Outcome) {
				mu.Lock()
				defer mu.Unlock()
				summary.Targets++
				summary.Items += out.Items
				summary.Classes[out.Class]++
				if out.Class == crawl.ClassCanceled {
					summary.Unfinished = append(summary.Unfinished, out.Entity)
				}
			})
		}(i)
	}
	wg.Wait()

	summary.Elapsed = time.Since(start)
	return summary
}

func (d *Dispatcher) worker(ctx context.Context, workerID int, queue *targetqueue.TargetQueue, done func(crawl.Outcome)) {
	logger := d.logger.With("worker", workerID)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped", "err", ctx.Err())
			return
		default:
		}

		entity, ok := queue.Get()
		if !ok {
			return
		}
		out := d.runOne(ctx, logger, entity)
		done(out)
	}
}

// runOne keeps a runner panic inside the target that caused it.
func (d *Dispatcher) runOne(ctx context.Context, logger *slog.Logger, entity string) (out crawl.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("runner panicked", "entity", entity, "panic", r)
			out = crawl.Outcome{Entity: entity, Class: crawl.ClassInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return d.runner.Run(ctx, entity)
}
