package task

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/certgen/pkg/certificate"
)

// Generator is the pipeline entry point a Runner drives.
type Generator interface {
	Generate(ctx context.Context, record certificate.Record) (string, error)
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxRetries  int           // retries after the first attempt
	BackoffBase time.Duration // delay before the first retry
	BackoffMax  time.Duration // cap on any single delay; zero means uncapped
}

// DefaultRetryPolicy retries three times starting at one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BackoffBase: time.Minute, BackoffMax: 15 * time.Minute}
}

// Backoff returns the delay before retry n (1-based): base * 2^(n-1).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.BackoffBase <= 0 {
		return 0
	}
	d := p.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// Runner executes tasks with retries.
type Runner struct {
	gen    Generator
	policy RetryPolicy

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(gen Generator, policy RetryPolicy) *Runner {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &Runner{gen: gen, policy: policy, sleep: sleepContext, now: time.Now}
}

// Run executes t until it succeeds, fails permanently or runs out of
// retries. It always returns a Result.
func (r *Runner) Run(ctx context.Context, t Task) Result {
	res := Result{TaskID: t.ID, CertificateID: t.Record.CertificateID}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		path, err := r.gen.Generate(ctx, t.Record)
		if err == nil {
			res.Status = StatusSucceeded
			res.OutputPath = path
			if res.CertificateID == "" {
				// The ID was generated during validation; the artifact is named after it.
				res.CertificateID = strings.TrimSuffix(filepath.Base(path), ".pdf")
			}
			res.CompletedAt = r.now().UTC()
			return res
		}

		kind, stage := Classify(err)
		res.Status = StatusFailed
		res.ErrorKind = kind
		res.Stage = stage
		res.Message = err.Error()

		if !kind.Transient() || attempt > r.policy.MaxRetries {
			log.Printf("[ERROR] Task failed: task_id=%s certificate_id=%s attempts=%d kind=%s error=%v",
				t.ID, t.Record.CertificateID, attempt, kind, err)
			res.CompletedAt = r.now().UTC()
			return res
		}

		delay := r.policy.Backoff(attempt)
		log.Printf("[WARN] Task attempt failed, retrying: task_id=%s attempt=%d/%d kind=%s backoff=%s error=%v",
			t.ID, attempt, r.policy.MaxRetries+1, kind, delay, err)
		if err := r.sleep(ctx, delay); err != nil {
			res.ErrorKind, _ = Classify(err)
			res.Message = err.Error()
			res.CompletedAt = r.now().UTC()
			return res
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
