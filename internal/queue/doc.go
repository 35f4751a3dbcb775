// Package queue is the Redis-backed broker and result store for
// certificate tasks.
//
// Every key is namespaced so several deployments can share one Redis server:
//
//	certgen:{ns}:queue:certificates           list, pending task payloads (LPUSH / BRPOPLPUSH)
//	certgen:{ns}:queue:certificates:inflight:{worker_id}  list, payloads one worker is running
//	certgen:{ns}:workers                      set, worker IDs that may own an in-flight list
//	certgen:{ns}:worker:{worker_id}:heartbeat string, expires when the worker stops refreshing it
//	certgen:{ns}:task:{task_id}               hash, task status and, once terminal, its result
//	certgen:{ns}:task:{task_id}:ready         list, a single token pushed on completion
//	certgen:{ns}:maintenance:sweep            string, retention sweep lease
//
// Tasks are acknowledged late: a payload leaves its worker's in-flight list
// only once its result is stored. When a worker crashes its heartbeat
// expires and RequeueOrphaned moves its list back onto the pending queue;
// lists of workers with a live heartbeat are never touched. A stored
// terminal result is never overwritten, so a task that does run twice keeps
// its first outcome. Terminal task hashes expire after the configured result TTL.
package queue
