// Package ledger keeps a SQLite record of every issued certificate so
// output files can later be verified against what was generated.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dyluth/certgen/pkg/certificate"
)

// ErrNotFound is returned when no entry exists for a certificate ID.
var ErrNotFound = errors.New("certificate not found in ledger")

// Entry is one issued certificate.
type Entry struct {
	CertificateID string    `json:"certificate_id"`
	RecipientName string    `json:"recipient_name"`
	Institution   string    `json:"institution"`
	Topic         string    `json:"topic"`
	IssuedAt      time.Time `json:"issued_at"`
	OutputPath    string    `json:"output_path"`
	SHA256        string    `json:"sha256"`
	SizeBytes     int64     `json:"size_bytes"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Verification is the outcome of checking a file against its entry.
type Verification struct {
	Entry     Entry
	Exists    bool
	SHA256    string // of the file on disk, empty when missing
	SizeBytes int64
	Matches   bool
}

// Ledger stores entries in SQLite. It implements pipeline.Recorder.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a Ledger and initialises the schema.
func New(db *sql.DB) (*Ledger, error) {
	l := &Ledger{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

// Open opens the database at path and creates a Ledger on it.
func Open(path string) (*Ledger, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	l, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS certificates (
		certificate_id TEXT PRIMARY KEY,
		recipient_name TEXT NOT NULL,
		institution    TEXT NOT NULL,
		topic          TEXT NOT NULL,
		issued_at      TEXT NOT NULL,
		output_path    TEXT NOT NULL,
		sha256         TEXT NOT NULL,
		size_bytes     INTEGER NOT NULL,
		generated_at   TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create certificates table: %w", err)
	}
	return nil
}

// Record hashes the file at outputPath and upserts an entry for req.
// Regenerating a certificate replaces its entry.
func (l *Ledger) Record(ctx context.Context, req *certificate.Request, outputPath string) error {
	sum, size, err := hashFile(outputPath)
	if err != nil {
		return err
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO certificates (certificate_id, recipient_name, institution, topic, issued_at, output_path, sha256, size_bytes, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(certificate_id) DO UPDATE SET
			recipient_name = excluded.recipient_name,
			institution    = excluded.institution,
			topic          = excluded.topic,
			issued_at      = excluded.issued_at,
			output_path    = excluded.output_path,
			sha256         = excluded.sha256,
			size_bytes     = excluded.size_bytes,
			generated_at   = excluded.generated_at`,
		req.CertificateID, req.RecipientName, req.Institution, req.Topic,
		req.IssuedAt.UTC().Format(time.RFC3339Nano), outputPath, sum, size,
		l.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}
	return nil
}

const selectEntries = `
	SELECT certificate_id, recipient_name, institution, topic, issued_at, output_path, sha256, size_bytes, generated_at
	FROM certificates`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var issuedAt, generatedAt string
	if err := row.Scan(&e.CertificateID, &e.RecipientName, &e.Institution, &e.Topic, &issuedAt, &e.OutputPath, &e.SHA256, &e.SizeBytes, &generatedAt); err != nil {
		return Entry{}, err
	}

	var err error
	if e.IssuedAt, err = time.Parse(time.RFC3339Nano, issuedAt); err != nil {
		return Entry{}, fmt.Errorf("invalid issued_at in ledger: %w", err)
	}
	if e.GeneratedAt, err = time.Parse(time.RFC3339Nano, generatedAt); err != nil {
		return Entry{}, fmt.Errorf("invalid generated_at in ledger: %w", err)
	}
	return e, nil
}

// Get returns the entry for certificateID or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, certificateID string) (Entry, error) {
	e, err := scanEntry(l.db.QueryRowContext(ctx, selectEntries+` WHERE certificate_id = ?`, certificateID))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read ledger entry: %w", err)
	}
	return e, nil
}

// List returns every entry, oldest generation first.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, selectEntries+` ORDER BY generated_at, certificate_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

// Verify re-hashes the recorded output file and compares it with the entry.
func (l *Ledger) Verify(ctx context.Context, certificateID string) (Verification, error) {
	e, err := l.Get(ctx, certificateID)
	if err != nil {
		return Verification{}, err
	}

	v := Verification{Entry: e}
	sum, size, err := hashFile(e.OutputPath)
	if errors.Is(err, os.ErrNotExist) {
		return v, nil
	}
	if err != nil {
		return Verification{}, err
	}

	v.Exists = true
	v.SHA256 = sum
	v.SizeBytes = size
	v.Matches = sum == e.SHA256 && size == e.SizeBytes
	return v, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open certificate: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash certificate: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
