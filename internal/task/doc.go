// Package task wraps the certificate pipeline as a unit of work that can run
// inline or through a queue.
//
// Runner owns the retry policy: each attempt is a fresh pipeline run, only
// transient failures are retried, and the last failure becomes the
// definitive Result. Executors are thin adapters that decide where Runner
// executes; they never retry on their own.
package task
