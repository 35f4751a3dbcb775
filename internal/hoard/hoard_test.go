package hoard

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/certgen/internal/ledger"
)

type memorySource []ledger.Entry

func (m memorySource) List(context.Context) ([]ledger.Entry, error) { return m, nil }

func (m memorySource) Get(_ context.Context, id string) (ledger.Entry, error) {
	for _, e := range m {
		if e.CertificateID == id {
			return e, nil
		}
	}
	return ledger.Entry{}, ledger.ErrNotFound
}

func entries() memorySource {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 10, 0, 0, 0, time.UTC) }
	return memorySource{
		{CertificateID: "CERT-1", RecipientName: "Ada Lovelace", Institution: "Analytical College", Topic: "Computing", IssuedAt: day(10), GeneratedAt: day(10)},
		{CertificateID: "CERT-2", RecipientName: "Alan Turing", Institution: "Bletchley Institute", Topic: "Computability", IssuedAt: day(15), GeneratedAt: day(15)},
		{CertificateID: "CERT-3", RecipientName: "Grace Hopper", Institution: "Navy School", Topic: "Compilers", IssuedAt: day(20), GeneratedAt: day(20)},
	}
}

func TestPad(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		width    int
		expected string
	}{
		{"empty", "", 5, "-    "},
		{"fits", "abc", 5, "abc  "},
		{"exact", "abcde", 5, "abcde"},
		{"truncated", "abcdefgh", 6, "abc..."},
		{"multibyte", "Zoë Ångström", 8, "Zoë Å..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, pad(tt.in, tt.width))
		})
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "-", formatAge(time.Time{}, now))
	assert.Equal(t, "30s ago", formatAge(now.Add(-30*time.Second), now))
	assert.Equal(t, "5m ago", formatAge(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", formatAge(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour), now))
}

func TestFormatTable(t *testing.T) {
	var buf bytes.Buffer
	n := FormatTable(&buf, entries(), time.Date(2024, 1, 21, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, 3, n)

	out := buf.String()
	assert.Contains(t, out, "RECIPIENT")
	assert.Contains(t, out, "Grace Hopper")
	assert.Contains(t, out, "2024-01-15")
	assert.Contains(t, out, "11d ago")
	assert.Contains(t, out, "3 certificates found")

	buf.Reset()
	assert.Equal(t, 0, FormatTable(&buf, nil, time.Now()))
	assert.Equal(t, "No certificates found\n", buf.String())
}

func TestListCertificates_Filters(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		filters *FilterCriteria
		want    []string
	}{
		{"no filters", nil, []string{"CERT-1", "CERT-2", "CERT-3"}},
		{"since", &FilterCriteria{Since: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)}, []string{"CERT-2", "CERT-3"}},
		{"until", &FilterCriteria{Until: time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)}, []string{"CERT-1", "CERT-2"}},
		{"institution glob is case-insensitive", &FilterCriteria{InstitutionGlob: "*COLLEGE"}, []string{"CERT-1"}},
		{"topic glob", &FilterCriteria{TopicGlob: "Comp*"}, []string{"CERT-1", "CERT-2", "CERT-3"}},
		{"combined", &FilterCriteria{TopicGlob: "Comp*", Since: time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)}, []string{"CERT-3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, ListCertificates(ctx, entries(), OutputFormatJSONL, tt.filters, &buf))

			var got []string
			for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
				if line == "" {
					continue
				}
				var e ledger.Entry
				require.NoError(t, json.Unmarshal([]byte(line), &e))
				got = append(got, e.CertificateID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListCertificates_Errors(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	err := ListCertificates(ctx, entries(), "xml", nil, &buf)
	assert.ErrorContains(t, err, "unknown output format")

	err = ListCertificates(ctx, entries(), OutputFormatDefault, &FilterCriteria{TopicGlob: "[bad"}, &buf)
	assert.ErrorContains(t, err, "invalid glob pattern")
}

func TestGetCertificate(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	require.NoError(t, GetCertificate(ctx, entries(), "CERT-2", &buf))
	var e ledger.Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &e))
	assert.Equal(t, "Alan Turing", e.RecipientName)

	err := GetCertificate(ctx, entries(), "CERT-404", &buf)
	assert.True(t, IsNotFound(err))
	assert.EqualError(t, err, "certificate 'CERT-404' not found")
}
