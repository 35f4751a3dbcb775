//go:build integration

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/certgen/internal/task"
	"github.com/dyluth/certgen/internal/testutil"
)

func TestIntegration_RoundTripAgainstRealRedis(t *testing.T) {
	redisURL := testutil.StartRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewClientFromURL(redisURL, "integration", time.Minute)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Ping(ctx))

	h, err := client.Submit(ctx, newTask())
	require.NoError(t, err)

	go func() {
		d, err := client.Dequeue(ctx, "w1", 5*time.Second)
		if err != nil || d == nil {
			return
		}
		client.MarkStarted(ctx, d)
		client.Complete(ctx, d, task.Result{
			TaskID:        d.Task.ID,
			CertificateID: d.Task.Record.CertificateID,
			Status:        task.StatusSucceeded,
			OutputPath:    "/out/CERT-0001.pdf",
			Attempts:      1,
			CompletedAt:   time.Now().UTC(),
		})
	}()

	res, err := client.Result(ctx, h, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "/out/CERT-0001.pdf", res.OutputPath)

	_, inFlight, err := client.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inFlight)
}
