package certificate

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() Record {
	return Record{
		RecipientName: "Jane Doe",
		Institution:   "Acme College",
		Topic:         "Systems Design",
		CertificateID: "CERT-0001",
		IssuedAt:      "2024-01-15T10:00:00",
	}
}

func requireFieldError(t *testing.T, err error, field string) *ValidationError {
	t.Helper()
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %T", err)
	assert.Equal(t, field, verr.Field)
	return verr
}

func TestValidate_ValidRecord(t *testing.T) {
	req, err := Validate(validRecord())
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", req.RecipientName)
	assert.Equal(t, "Acme College", req.Institution)
	assert.Equal(t, "Systems Design", req.Topic)
	assert.Equal(t, "CERT-0001", req.CertificateID)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), req.IssuedAt)
}

func TestValidate_TrimsWhitespace(t *testing.T) {
	rec := validRecord()
	rec.RecipientName = "  Jane Doe\t"
	rec.CertificateID = " CERT-0001 "

	req, err := Validate(rec)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", req.RecipientName)
	assert.Equal(t, "CERT-0001", req.CertificateID)
}

func TestValidate_TextFieldBounds(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		mutate func(r *Record, v string)
		max    int
	}{
		{"recipient name", FieldRecipientName, func(r *Record, v string) { r.RecipientName = v }, MaxRecipientNameLength},
		{"institution", FieldInstitution, func(r *Record, v string) { r.Institution = v }, MaxInstitutionLength},
		{"topic", FieldTopic, func(r *Record, v string) { r.Topic = v }, MaxTopicLength},
	}

	for _, tt := range tests {
		t.Run(tt.name+" empty", func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec, "   ")
			_, err := Validate(rec)
			verr := requireFieldError(t, err, tt.field)
			assert.Contains(t, verr.Reason, "empty")
		})

		t.Run(tt.name+" at limit", func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec, strings.Repeat("é", tt.max))
			_, err := Validate(rec)
			assert.NoError(t, err)
		})

		t.Run(tt.name+" over limit", func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec, strings.Repeat("a", tt.max+1))
			_, err := Validate(rec)
			verr := requireFieldError(t, err, tt.field)
			assert.Contains(t, verr.Reason, "at most")
		})
	}
}

func TestValidate_ControlCharacters(t *testing.T) {
	rec := validRecord()
	rec.Topic = "Systems\nDesign"
	_, err := Validate(rec)
	requireFieldError(t, err, FieldTopic)
}

func TestValidate_CertificateID(t *testing.T) {
	valid := []string{"CERT-123456789", "TEST-ABCD-2025", "CSI_CERT_001", "abc"}
	for _, id := range valid {
		t.Run("valid "+id, func(t *testing.T) {
			rec := validRecord()
			rec.CertificateID = id
			_, err := Validate(rec)
			assert.NoError(t, err)
		})
	}

	invalidIDs := []string{"cert@123", "../etc/passwd", "CERT 1", "CERT:1", strings.Repeat("A", MaxCertificateIDLength+1)}
	for _, id := range invalidIDs {
		t.Run("invalid "+id, func(t *testing.T) {
			rec := validRecord()
			rec.CertificateID = id
			_, err := Validate(rec)
			requireFieldError(t, err, FieldCertificateID)
		})
	}
}

func TestValidate_MissingIDRejectedByDefault(t *testing.T) {
	rec := validRecord()
	rec.CertificateID = ""

	_, err := Validate(rec)
	verr := requireFieldError(t, err, FieldCertificateID)
	assert.Equal(t, "is required", verr.Reason)
}

func TestValidate_AutoGenerateID(t *testing.T) {
	rec := validRecord()
	rec.CertificateID = ""

	v := Validator{AutoGenerateIDs: true, newSuffix: func() string { return "ABCD1234" }}
	req, err := v.Validate(rec)
	require.NoError(t, err)
	assert.Equal(t, "CERT-20240115-100000-ABCD1234", req.CertificateID)
	assert.NoError(t, checkCertificateID(req.CertificateID))

	t.Run("random suffix is valid", func(t *testing.T) {
		req, err := Validator{AutoGenerateIDs: true}.Validate(rec)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(req.CertificateID, "CERT-20240115-100000-"))
		assert.NoError(t, checkCertificateID(req.CertificateID))
	})

	t.Run("invalid issued_at still reported", func(t *testing.T) {
		bad := rec
		bad.IssuedAt = "yesterday"
		_, err := v.Validate(bad)
		requireFieldError(t, err, FieldIssuedAt)
	})
}

func TestValidate_FieldOrder(t *testing.T) {
	// Everything invalid: each fix reveals the next field in order.
	rec := Record{CertificateID: "bad id!", IssuedAt: "nope"}
	order := []string{FieldRecipientName, FieldInstitution, FieldCertificateID, FieldIssuedAt, FieldTopic}
	fixes := []func(){
		func() { rec.RecipientName = "Jane" },
		func() { rec.Institution = "Acme" },
		func() { rec.CertificateID = "CERT-1" },
		func() { rec.IssuedAt = "2024-01-15" },
		func() { rec.Topic = "Go" },
	}

	for i, field := range order {
		_, err := Validate(rec)
		requireFieldError(t, err, field)
		fixes[i]()
	}
	_, err := Validate(rec)
	assert.NoError(t, err)
}

func TestParseIssuedAt(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-15T10:00:00", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"2024-01-15T10:00:00.123456", time.Date(2024, 1, 15, 10, 0, 0, 123456000, time.UTC)},
		{"2025-06-10T14:30:00+00:00", time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:00:00Z", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"2024-01-15 10:00:00", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIssuedAt(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}

	for _, bad := range []string{"", "invalid-date", "15/01/2024", "2024-13-01"} {
		_, err := ParseIssuedAt(bad)
		requireFieldError(t, err, FieldIssuedAt)
	}
}

func TestRecord_UnmarshalLegacyNames(t *testing.T) {
	data := `{"user_name":"Deva","college":"CSI","certificate_id":"CSI-1","issued_at":"2025-01-01T00:00:00","topic":"Go","user_id":7,"test_id":2025}`

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(data), &rec))
	assert.Equal(t, "Deva", rec.RecipientName)
	assert.Equal(t, "CSI", rec.Institution)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, int64(7), *rec.UserID)
	require.NotNil(t, rec.CourseID)
	assert.Equal(t, int64(2025), *rec.CourseID)
}

func TestRequest_RecordRoundTrip(t *testing.T) {
	req, err := Validate(validRecord())
	require.NoError(t, err)

	again, err := Validate(req.Record())
	require.NoError(t, err)
	assert.Equal(t, req, again)
}
