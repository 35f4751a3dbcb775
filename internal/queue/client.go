package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/certgen/internal/task"
)

// DefaultResultTTL is how long terminal results stay retrievable.
const DefaultResultTTL = time.Hour

// ErrMalformedTask is returned by Dequeue for payloads that cannot be decoded.
// The payload has already been dropped from the in-flight list.
var ErrMalformedTask = errors.New("malformed task payload")

// ErrAlreadyCompleted is returned by MarkStarted and Complete when the task
// already has a stored terminal result. The delivery has been acknowledged
// and the stored result is left untouched.
var ErrAlreadyCompleted = errors.New("task already has a terminal result")

// ErrWorkerIDInUse is returned by RegisterWorker when another live worker
// holds the same ID.
var ErrWorkerIDInUse = errors.New("worker id already in use")

// markStartedScript sets the started status unless a terminal result is stored.
// KEYS: task hash, in-flight list. ARGV: succeeded, failed, raw payload,
// started status, started_at_ms.
var markStartedScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 'status')
if s == ARGV[1] or s == ARGV[2] then
  redis.call('LREM', KEYS[2], 1, ARGV[3])
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[4], 'started_at_ms', ARGV[5])
return 1
`)

// completeScript stores a result unless one is already stored, and always
// acknowledges the delivery.
// KEYS: task hash, ready list, in-flight list. ARGV: succeeded, failed,
// raw payload, ttl_ms, then field/value pairs.
var completeScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 'status')
redis.call('LREM', KEYS[3], 1, ARGV[3])
if s == ARGV[1] or s == ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('DEL', KEYS[2])
redis.call('LPUSH', KEYS[2], '1')
redis.call('PEXPIRE', KEYS[2], ARGV[4])
return 1
`)

// Client provides namespaced broker and result-store operations.
// It is safe for concurrent use and implements task.Executor.
type Client struct {
	rdb       *redis.Client
	namespace string
	resultTTL time.Duration
}

var _ task.Executor = (*Client)(nil)

// NewClient creates a client for namespace. A zero resultTTL selects
// DefaultResultTTL.
func NewClient(redisOpts *redis.Options, namespace string, resultTTL time.Duration) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
		resultTTL: resultTTL,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client.
func NewClientFromURL(url, namespace string, resultTTL time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewClient(opts, namespace, resultTTL)
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Delivery is a dequeued task. Raw is the exact payload held in Worker's
// in-flight list and is needed to acknowledge it.
type Delivery struct {
	Task   task.Task
	Raw    string
	Worker string
}

// Submit enqueues t and records it as queued.
func (c *Client) Submit(ctx context.Context, t task.Task) (task.Handle, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return task.Handle{}, fmt.Errorf("failed to marshal task: %w", err)
	}

	taskKey := TaskKey(c.namespace, t.ID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, taskKey, map[string]interface{}{
			"task_id":         t.ID,
			"certificate_id":  t.Record.CertificateID,
			"status":          string(task.StatusQueued),
			"submitted_at_ms": t.SubmittedAt.UnixMilli(),
		})
		pipe.LPush(ctx, QueueKey(c.namespace), payload)
		return nil
	})
	if err != nil {
		return task.Handle{}, fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("[DEBUG] Task queued: task_id=%s certificate_id=%s", t.ID, t.Record.CertificateID)
	return task.Handle{TaskID: t.ID, CertificateID: t.Record.CertificateID}, nil
}

// Dequeue blocks up to timeout for the next task and moves it to the
// in-flight list of workerID. It returns (nil, nil) when nothing arrived.
func (c *Client) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (*Delivery, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker id cannot be empty")
	}
	if err := c.rdb.SAdd(ctx, WorkersKey(c.namespace), workerID).Err(); err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	inFlight := InFlightKey(c.namespace, workerID)
	raw, err := c.rdb.BRPopLPush(ctx, QueueKey(c.namespace), inFlight, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	var t task.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil || t.ID == "" {
		c.rdb.LRem(ctx, inFlight, 1, raw)
		if err == nil {
			err = errors.New("missing task id")
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	return &Delivery{Task: t, Raw: raw, Worker: workerID}, nil
}

// MarkStarted records that a worker picked up d. It returns
// ErrAlreadyCompleted, and acknowledges d, when the task already finished
// elsewhere.
func (c *Client) MarkStarted(ctx context.Context, d *Delivery) error {
	keys := []string{TaskKey(c.namespace, d.Task.ID), InFlightKey(c.namespace, d.Worker)}
	args := []interface{}{
		string(task.StatusSucceeded), string(task.StatusFailed), d.Raw,
		string(task.StatusStarted), time.Now().UnixMilli(),
	}
	n, err := markStartedScript.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to mark task started: %w", err)
	}
	if n == 0 {
		return ErrAlreadyCompleted
	}
	return nil
}

// Complete stores the terminal result of d, wakes any waiter and
// acknowledges the delivery. When a terminal result is already stored the
// delivery is acknowledged, the stored result is kept and
// ErrAlreadyCompleted is returned.
func (c *Client) Complete(ctx context.Context, d *Delivery, res task.Result) error {
	if !res.Status.Terminal() {
		return fmt.Errorf("result status %q is not terminal", res.Status)
	}

	keys := []string{
		TaskKey(c.namespace, d.Task.ID),
		ReadyKey(c.namespace, d.Task.ID),
		InFlightKey(c.namespace, d.Worker),
	}
	args := []interface{}{
		string(task.StatusSucceeded), string(task.StatusFailed), d.Raw, c.resultTTL.Milliseconds(),
	}
	args = append(args, hashArgs(ResultToHash(res))...)

	n, err := completeScript.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to store task result: %w", err)
	}
	if n == 0 {
		return ErrAlreadyCompleted
	}
	return nil
}

// hashArgs flattens hash fields into sorted field/value pairs.
func hashArgs(hash map[string]interface{}) []interface{} {
	fields := make([]string, 0, len(hash))
	for f := range hash {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	args := make([]interface{}, 0, 2*len(fields))
	for _, f := range fields {
		args = append(args, f, hash[f])
	}
	return args
}

// Status returns the current status of a task.
// Returns redis.Nil if the task is unknown or its result expired.
func (c *Client) Status(ctx context.Context, taskID string) (task.Status, error) {
	s, err := c.rdb.HGet(ctx, TaskKey(c.namespace, taskID), "status").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", redis.Nil
		}
		return "", fmt.Errorf("failed to read task status: %w", err)
	}
	return task.Status(s), nil
}

// GetResult returns the stored result without waiting.
// Returns redis.Nil if no terminal result exists.
func (c *Client) GetResult(ctx context.Context, taskID string) (task.Result, error) {
	hash, err := c.rdb.HGetAll(ctx, TaskKey(c.namespace, taskID)).Result()
	if err != nil {
		return task.Result{}, fmt.Errorf("failed to read task result: %w", err)
	}
	if !task.Status(hash["status"]).Terminal() {
		return task.Result{}, redis.Nil
	}
	res, err := HashToResult(hash)
	if err != nil {
		return task.Result{}, fmt.Errorf("failed to deserialize result: %w", err)
	}
	return res, nil
}

// Result waits up to timeout for the task behind h to finish. A timeout
// of zero or less checks once without blocking. It returns task.ErrTimeout
// when the task is still running and task.ErrUnknownTask when nothing is
// known about it.
func (c *Client) Result(ctx context.Context, h task.Handle, timeout time.Duration) (task.Result, error) {
	res, err := c.GetResult(ctx, h.TaskID)
	if err == nil {
		return res, nil
	}
	if !IsNotFound(err) {
		return task.Result{}, err
	}

	if _, err := c.Status(ctx, h.TaskID); err != nil {
		if IsNotFound(err) {
			return task.Result{}, fmt.Errorf("%w: %s", task.ErrUnknownTask, h.TaskID)
		}
		return task.Result{}, err
	}

	if timeout <= 0 {
		return task.Result{}, task.ErrTimeout
	}

	readyKey := ReadyKey(c.namespace, h.TaskID)
	if _, err := c.rdb.BLPop(ctx, timeout, readyKey).Result(); err != nil {
		if errors.Is(err, redis.Nil) {
			return task.Result{}, task.ErrTimeout
		}
		return task.Result{}, fmt.Errorf("failed waiting for task result: %w", err)
	}
	// Restore the token for any other waiter on the same handle.
	c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, readyKey, "1")
		pipe.Expire(ctx, readyKey, c.resultTTL)
		return nil
	})

	res, err = c.GetResult(ctx, h.TaskID)
	if IsNotFound(err) {
		return task.Result{}, task.ErrTimeout
	}
	return res, err
}

// RegisterWorker records workerID as live for ttl. It fails with
// ErrWorkerIDInUse when another process already holds a live heartbeat
// under the same ID.
func (c *Client) RegisterWorker(ctx context.Context, workerID string, ttl time.Duration) error {
	ok, err := c.rdb.SetNX(ctx, HeartbeatKey(c.namespace, workerID), time.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerIDInUse, workerID)
	}
	if err := c.rdb.SAdd(ctx, WorkersKey(c.namespace), workerID).Err(); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	return nil
}

// Heartbeat extends the liveness of workerID by ttl.
func (c *Client) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	err := c.rdb.Set(ctx, HeartbeatKey(c.namespace, workerID), time.Now().UnixMilli(), ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to refresh worker heartbeat: %w", err)
	}
	return nil
}

// UnregisterWorker drops the heartbeat of workerID. The worker stays in the
// registry while its in-flight list still holds payloads so they can be
// recovered.
func (c *Client) UnregisterWorker(ctx context.Context, workerID string) error {
	if err := c.rdb.Del(ctx, HeartbeatKey(c.namespace, workerID)).Err(); err != nil {
		return fmt.Errorf("failed to unregister worker: %w", err)
	}
	n, err := c.rdb.LLen(ctx, InFlightKey(c.namespace, workerID)).Result()
	if err != nil {
		return fmt.Errorf("failed to unregister worker: %w", err)
	}
	if n == 0 {
		c.rdb.SRem(ctx, WorkersKey(c.namespace), workerID)
	}
	return nil
}

// RequeueOrphaned moves the in-flight payloads of every registered worker
// whose heartbeat has expired back onto the pending queue and returns how
// many were moved. In-flight lists of live workers are left alone.
func (c *Client) RequeueOrphaned(ctx context.Context) (int, error) {
	workers, err := c.rdb.SMembers(ctx, WorkersKey(c.namespace)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list workers: %w", err)
	}

	moved := 0
	for _, id := range workers {
		live, err := c.rdb.Exists(ctx, HeartbeatKey(c.namespace, id)).Result()
		if err != nil {
			return moved, fmt.Errorf("failed to read worker heartbeat: %w", err)
		}
		if live > 0 {
			continue
		}
		n, err := c.requeueList(ctx, InFlightKey(c.namespace, id))
		moved += n
		if err != nil {
			return moved, err
		}
		if n > 0 {
			log.Printf("[DEBUG] Requeued in-flight tasks of expired worker: worker=%s count=%d", id, n)
		}
		c.rdb.SRem(ctx, WorkersKey(c.namespace), id)
	}
	return moved, nil
}

// RequeueWorker moves the in-flight payloads of workerID back onto the
// pending queue. Only call it for a worker that is not running tasks.
func (c *Client) RequeueWorker(ctx context.Context, workerID string) (int, error) {
	return c.requeueList(ctx, InFlightKey(c.namespace, workerID))
}

func (c *Client) requeueList(ctx context.Context, key string) (int, error) {
	moved := 0
	for {
		_, err := c.rdb.RPopLPush(ctx, key, QueueKey(c.namespace)).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to requeue in-flight task: %w", err)
		}
		moved++
	}
}

// Depth returns the number of pending tasks and the number in flight across
// all registered workers.
func (c *Client) Depth(ctx context.Context) (pending, inFlight int64, err error) {
	pending, err = c.rdb.LLen(ctx, QueueKey(c.namespace)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	workers, err := c.rdb.SMembers(ctx, WorkersKey(c.namespace)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list workers: %w", err)
	}
	for _, id := range workers {
		n, err := c.rdb.LLen(ctx, InFlightKey(c.namespace, id)).Result()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read in-flight length: %w", err)
		}
		inFlight += n
	}
	return pending, inFlight, nil
}

// AcquireSweepLease claims the retention sweep for ttl. Only one worker in
// the namespace gets true per lease period.
func (c *Client) AcquireSweepLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, SweepLeaseKey(c.namespace), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sweep lease: %w", err)
	}
	return ok, nil
}

// IsNotFound reports whether err is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
