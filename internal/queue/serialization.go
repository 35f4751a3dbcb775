package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dyluth/certgen/internal/task"
)

// Redis hashes are flat string maps; timestamps are stored as Unix
// milliseconds and empty optional fields are omitted.

// ResultToHash converts a terminal result to hash fields.
func ResultToHash(r task.Result) map[string]interface{} {
	hash := map[string]interface{}{
		"task_id":         r.TaskID,
		"certificate_id":  r.CertificateID,
		"status":          string(r.Status),
		"attempts":        r.Attempts,
		"completed_at_ms": r.CompletedAt.UnixMilli(),
	}
	if r.OutputPath != "" {
		hash["output_path"] = r.OutputPath
	}
	if r.ErrorKind != "" {
		hash["error_kind"] = string(r.ErrorKind)
	}
	if r.Stage != "" {
		hash["stage"] = r.Stage
	}
	if r.Message != "" {
		hash["message"] = r.Message
	}
	return hash
}

// HashToResult converts a stored hash back into a Result.
func HashToResult(hash map[string]string) (task.Result, error) {
	attempts := 0
	if s := hash["attempts"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return task.Result{}, fmt.Errorf("invalid attempts field: %w", err)
		}
		attempts = n
	}

	var completedAt time.Time
	if s := hash["completed_at_ms"]; s != "" {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return task.Result{}, fmt.Errorf("invalid completed_at_ms field: %w", err)
		}
		completedAt = time.UnixMilli(ms).UTC()
	}

	return task.Result{
		TaskID:        hash["task_id"],
		CertificateID: hash["certificate_id"],
		Status:        task.Status(hash["status"]),
		OutputPath:    hash["output_path"],
		ErrorKind:     task.ErrorKind(hash["error_kind"]),
		Stage:         hash["stage"],
		Message:       hash["message"],
		Attempts:      attempts,
		CompletedAt:   completedAt,
	}, nil
}
