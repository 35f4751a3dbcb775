package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/certgen/pkg/certificate"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func request() *certificate.Request {
	return &certificate.Request{
		RecipientName: "Jane Doe",
		Institution:   "Acme College",
		Topic:         "Systems Design",
		CertificateID: "CERT-0001",
		IssuedAt:      time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func writePDF(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "CERT-0001.pdf")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRecordAndGet(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	path := writePDF(t, "%PDF-1.4 one")

	require.NoError(t, l.Record(ctx, request(), path))

	e, err := l.Get(ctx, "CERT-0001")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", e.RecipientName)
	assert.Equal(t, "Acme College", e.Institution)
	assert.Equal(t, path, e.OutputPath)
	assert.Equal(t, int64(12), e.SizeBytes)
	assert.Len(t, e.SHA256, 64)
	assert.True(t, e.IssuedAt.Equal(request().IssuedAt))
	assert.False(t, e.GeneratedAt.IsZero())
}

func TestRecord_UpsertReplacesEntry(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, request(), writePDF(t, "%PDF-1.4 one")))
	first, err := l.Get(ctx, "CERT-0001")
	require.NoError(t, err)

	req := request()
	req.RecipientName = "John Roe"
	require.NoError(t, l.Record(ctx, req, writePDF(t, "%PDF-1.4 second")))

	second, err := l.Get(ctx, "CERT-0001")
	require.NoError(t, err)
	assert.Equal(t, "John Roe", second.RecipientName)
	assert.NotEqual(t, first.SHA256, second.SHA256)
}

func TestRecord_MissingFile(t *testing.T) {
	l := newTestLedger(t)
	err := l.Record(context.Background(), request(), filepath.Join(t.TempDir(), "none.pdf"))
	assert.Error(t, err)

	_, err = l.Get(context.Background(), "CERT-0001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerify(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	path := writePDF(t, "%PDF-1.4 original")
	require.NoError(t, l.Record(ctx, request(), path))

	v, err := l.Verify(ctx, "CERT-0001")
	require.NoError(t, err)
	assert.True(t, v.Exists)
	assert.True(t, v.Matches)

	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 tampered"), 0o644))
	v, err = l.Verify(ctx, "CERT-0001")
	require.NoError(t, err)
	assert.True(t, v.Exists)
	assert.False(t, v.Matches)

	require.NoError(t, os.Remove(path))
	v, err = l.Verify(ctx, "CERT-0001")
	require.NoError(t, err)
	assert.False(t, v.Exists)
	assert.False(t, v.Matches)

	_, err = l.Verify(ctx, "UNKNOWN")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_IdempotentMigration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := OpenSQLite(dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db)
	require.NoError(t, err)
	_, err = New(db)
	assert.NoError(t, err)
}

func TestList_OrderedByGeneration(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	for _, id := range []string{"CERT-B", "CERT-A", "CERT-C"} {
		req := request()
		req.CertificateID = id
		require.NoError(t, l.Record(ctx, req, writePDF(t, "%PDF-"+id)))
		clock = clock.Add(time.Minute)
	}

	entries, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "CERT-B", entries[0].CertificateID)
	assert.Equal(t, "CERT-A", entries[1].CertificateID)
	assert.Equal(t, "CERT-C", entries[2].CertificateID)
}

func TestList_Empty(t *testing.T) {
	entries, err := newTestLedger(t).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
