package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/certgen/internal/queue"
	"github.com/dyluth/certgen/internal/task"
	"github.com/dyluth/certgen/pkg/certificate"
)

func setupClient(t *testing.T) *queue.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := queue.NewClient(&redis.Options{Addr: mr.Addr()}, "watch-test", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func submit(t *testing.T, client *queue.Client) task.Handle {
	h, err := client.Submit(context.Background(), task.New(certificate.Record{
		RecipientName: "Jane Doe",
		Institution:   "Acme College",
		Topic:         "Systems",
		CertificateID: "CERT-0100",
		IssuedAt:      "2024-01-15T10:00:00Z",
	}))
	require.NoError(t, err)
	return h
}

type statusLog struct {
	mu  sync.Mutex
	got []task.Status
}

func (l *statusLog) add(s task.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, s)
}

func TestFollow(t *testing.T) {
	ctx := context.Background()

	t.Run("reports every transition until terminal", func(t *testing.T) {
		client := setupClient(t)
		h := submit(t, client)

		go func() {
			time.Sleep(300 * time.Millisecond)
			d, err := client.Dequeue(ctx, "w1", time.Second)
			if err != nil || d == nil {
				return
			}
			client.MarkStarted(ctx, d)
			time.Sleep(300 * time.Millisecond)
			client.Complete(ctx, d, task.Result{
				TaskID:        d.Task.ID,
				CertificateID: d.Task.Record.CertificateID,
				Status:        task.StatusSucceeded,
				OutputPath:    "certificates/CERT-0100.pdf",
				Attempts:      1,
				CompletedAt:   time.Now().UTC(),
			})
		}()

		var log statusLog
		res, err := Follow(ctx, client, h.TaskID, 50*time.Millisecond, 5*time.Second, log.add)
		require.NoError(t, err)
		assert.True(t, res.Succeeded())
		assert.Equal(t, "certificates/CERT-0100.pdf", res.OutputPath)
		assert.Equal(t, []task.Status{task.StatusQueued, task.StatusStarted, task.StatusSucceeded}, log.got)
	})

	t.Run("times out while queued", func(t *testing.T) {
		client := setupClient(t)
		h := submit(t, client)

		var log statusLog
		_, err := Follow(ctx, client, h.TaskID, 50*time.Millisecond, 300*time.Millisecond, log.add)
		assert.ErrorIs(t, err, task.ErrTimeout)
		assert.Equal(t, []task.Status{task.StatusQueued}, log.got)
	})

	t.Run("unknown task", func(t *testing.T) {
		client := setupClient(t)

		_, err := Follow(ctx, client, "does-not-exist", 50*time.Millisecond, time.Second, nil)
		assert.ErrorIs(t, err, task.ErrUnknownTask)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		client := setupClient(t)
		h := submit(t, client)

		cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		_, err := Follow(cctx, client, h.TaskID, 50*time.Millisecond, 5*time.Second, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
