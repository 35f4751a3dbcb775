package queue

import "fmt"

// QueueKey returns the pending-task list for certificate generation.
// Pattern: certgen:{ns}:queue:certificates
func QueueKey(namespace string) string {
	return fmt.Sprintf("certgen:%s:queue:certificates", namespace)
}

// InFlightKey returns the list holding payloads dequeued by one worker but
// not yet acknowledged.
// Pattern: certgen:{ns}:queue:certificates:inflight:{worker_id}
func InFlightKey(namespace, workerID string) string {
	return QueueKey(namespace) + ":inflight:" + workerID
}

// WorkersKey returns the set of worker IDs that may own an in-flight list.
// Pattern: certgen:{ns}:workers
func WorkersKey(namespace string) string {
	return fmt.Sprintf("certgen:%s:workers", namespace)
}

// HeartbeatKey returns the expiring key a live worker keeps refreshed.
// Pattern: certgen:{ns}:worker:{worker_id}:heartbeat
func HeartbeatKey(namespace, workerID string) string {
	return fmt.Sprintf("certgen:%s:worker:%s:heartbeat", namespace, workerID)
}

// TaskKey returns the status/result hash for a task.
// Pattern: certgen:{ns}:task:{task_id}
func TaskKey(namespace, taskID string) string {
	return fmt.Sprintf("certgen:%s:task:%s", namespace, taskID)
}

// ReadyKey returns the list a waiter blocks on for a task's completion.
// Pattern: certgen:{ns}:task:{task_id}:ready
func ReadyKey(namespace, taskID string) string {
	return TaskKey(namespace, taskID) + ":ready"
}

// SweepLeaseKey returns the key serialising retention sweeps across workers.
// Pattern: certgen:{ns}:maintenance:sweep
func SweepLeaseKey(namespace string) string {
	return fmt.Sprintf("certgen:%s:maintenance:sweep", namespace)
}
