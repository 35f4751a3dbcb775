// Package worker consumes certificate tasks from the queue and runs the
// scheduled retention sweep.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/dyluth/certgen/internal/queue"
	"github.com/dyluth/certgen/internal/retention"
	"github.com/dyluth/certgen/internal/task"
)

const (
	// MaxConcurrency caps auto-sized worker pools. Every task spawns
	// FFmpeg and ImageMagick, which are themselves multi-threaded.
	MaxConcurrency = 8

	// DefaultPollTimeout is how long one dequeue blocks before the loop
	// re-checks for shutdown.
	DefaultPollTimeout = time.Second

	// DefaultHeartbeatTTL is how long a worker stays live without refreshing
	// its heartbeat. The engine refreshes it three times per period.
	DefaultHeartbeatTTL = 15 * time.Second

	// errorBackoff throttles the loop while Redis is failing.
	errorBackoff = 2 * time.Second
)

// ResolveConcurrency returns n when positive, otherwise GOMAXPROCS clamped
// to [1, MaxConcurrency]. GOMAXPROCS honours container CPU quotas once
// automaxprocs has run.
func ResolveConcurrency(n int) int {
	if n > 0 {
		return n
	}
	available := runtime.GOMAXPROCS(0)
	if available < 1 {
		return 1
	}
	if available > MaxConcurrency {
		return MaxConcurrency
	}
	return available
}

// Config controls the engine.
type Config struct {
	ID             string        // identifies this worker in logs, its in-flight list and the sweep lease
	Concurrency    int           // zero means ResolveConcurrency(0)
	PollTimeout    time.Duration // zero means DefaultPollTimeout
	TaskTimeout    time.Duration // whole-task deadline; zero means none
	SweepInterval  time.Duration // zero disables scheduled sweeps
	HeartbeatTTL   time.Duration // zero means DefaultHeartbeatTTL
	RequeueOnStart bool          // recover tasks orphaned by crashed workers
}

// SweepFunc performs one retention sweep.
type SweepFunc func() retention.Report

// Engine runs a pool of task consumers plus an optional sweep scheduler.
type Engine struct {
	cfg    Config
	client *queue.Client
	runner *task.Runner
	sweep  SweepFunc
	wg     sync.WaitGroup
}

// New creates an engine. sweep may be nil.
func New(cfg Config, client *queue.Client, runner *task.Runner, sweep SweepFunc) *Engine {
	if cfg.ID == "" {
		host, _ := os.Hostname()
		cfg.ID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = DefaultHeartbeatTTL
	}
	cfg.Concurrency = ResolveConcurrency(cfg.Concurrency)
	return &Engine{cfg: cfg, client: client, runner: runner, sweep: sweep}
}

// Start launches the consumers and blocks until ctx is cancelled and every
// goroutine has exited. A task already running when ctx is cancelled is
// allowed to finish and its result is stored.
func (e *Engine) Start(ctx context.Context) error {
	log.Printf("[INFO] Worker starting: id=%s concurrency=%d", e.cfg.ID, e.cfg.Concurrency)

	if err := e.client.RegisterWorker(ctx, e.cfg.ID, e.cfg.HeartbeatTTL); err != nil {
		return err
	}
	defer e.unregister(context.WithoutCancel(ctx))

	if e.cfg.RequeueOnStart {
		if err := e.requeueOrphans(ctx); err != nil {
			return err
		}
	}

	// The heartbeat outlives ctx so tasks finishing after a shutdown signal
	// still own their in-flight entries.
	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		e.heartbeat(hbCtx)
	}()
	defer func() {
		stopHeartbeat()
		<-hbDone
	}()

	for i := 0; i < e.cfg.Concurrency; i++ {
		e.wg.Add(1)
		go e.consume(ctx, i)
	}

	if e.sweep != nil && e.cfg.SweepInterval > 0 {
		e.wg.Add(1)
		go e.scheduleSweeps(ctx)
	}

	<-ctx.Done()
	log.Printf("[INFO] Shutdown signal received, waiting for running tasks")

	e.wg.Wait()
	log.Printf("[INFO] All goroutines exited, shutdown complete")
	return nil
}

func (e *Engine) consume(ctx context.Context, n int) {
	defer e.wg.Done()
	defer log.Printf("[DEBUG] Consumer %d exited cleanly", n)

	for {
		if ctx.Err() != nil {
			return
		}

		d, err := e.client.Dequeue(ctx, e.cfg.ID, e.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrMalformedTask) {
				log.Printf("[ERROR] Dropped malformed task: %v", err)
				continue
			}
			log.Printf("[ERROR] Dequeue failed: %v", err)
			if !sleep(ctx, errorBackoff) {
				return
			}
			continue
		}
		if d == nil {
			continue
		}

		e.process(context.WithoutCancel(ctx), d)
	}
}

// process runs one delivery to a stored result.
func (e *Engine) process(ctx context.Context, d *queue.Delivery) {
	log.Printf("[INFO] Task started: task_id=%s certificate_id=%s worker=%s", d.Task.ID, d.Task.Record.CertificateID, e.cfg.ID)
	if err := e.client.MarkStarted(ctx, d); err != nil {
		if errors.Is(err, queue.ErrAlreadyCompleted) {
			log.Printf("[INFO] Task already finished, skipping: task_id=%s", d.Task.ID)
			return
		}
		log.Printf("[WARN] %v: task_id=%s", err, d.Task.ID)
	}

	taskCtx := ctx
	if e.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, e.cfg.TaskTimeout)
		defer cancel()
	}

	res := e.runner.Run(taskCtx, d.Task)
	if err := e.client.Complete(ctx, d, res); err != nil {
		if errors.Is(err, queue.ErrAlreadyCompleted) {
			log.Printf("[WARN] Result already stored, keeping it: task_id=%s discarded_status=%s", d.Task.ID, res.Status)
			return
		}
		// The delivery stays in-flight and is recovered on the next requeue.
		log.Printf("[ERROR] Failed to store task result: task_id=%s error=%v", d.Task.ID, err)
		return
	}
	log.Printf("[INFO] Task finished: task_id=%s status=%s attempts=%d", d.Task.ID, res.Status, res.Attempts)
}

// requeueOrphans recovers this worker's own list, left by an earlier
// process with the same ID, then the lists of every worker whose heartbeat
// expired.
func (e *Engine) requeueOrphans(ctx context.Context) error {
	own, err := e.client.RequeueWorker(ctx, e.cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to requeue in-flight tasks: %w", err)
	}
	others, err := e.client.RequeueOrphaned(ctx)
	if err != nil {
		return fmt.Errorf("failed to requeue in-flight tasks: %w", err)
	}
	if own+others > 0 {
		log.Printf("[WARN] Requeued orphaned in-flight tasks: count=%d", own+others)
	}
	return nil
}

func (e *Engine) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HeartbeatTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.client.Heartbeat(ctx, e.cfg.ID, e.cfg.HeartbeatTTL); err != nil && ctx.Err() == nil {
				log.Printf("[WARN] %v", err)
			}
		}
	}
}

func (e *Engine) unregister(ctx context.Context) {
	if err := e.client.UnregisterWorker(ctx, e.cfg.ID); err != nil {
		log.Printf("[WARN] %v", err)
	}
}

func (e *Engine) scheduleSweeps(ctx context.Context) {
	defer e.wg.Done()
	defer log.Printf("[DEBUG] Sweep scheduler exited cleanly")

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runSweep(ctx)
		}
	}
}

// runSweep sweeps if this worker wins the lease for the current interval.
func (e *Engine) runSweep(ctx context.Context) {
	ok, err := e.client.AcquireSweepLease(ctx, e.cfg.ID, e.cfg.SweepInterval)
	if err != nil {
		log.Printf("[WARN] %v", err)
		return
	}
	if !ok {
		log.Printf("[DEBUG] Sweep lease held by another worker, skipping")
		return
	}
	r := e.sweep()
	log.Printf("[INFO] Scheduled sweep finished: deleted=%d freed_bytes=%d errors=%d", r.DeletedCount, r.FreedBytes, len(r.Errors))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
