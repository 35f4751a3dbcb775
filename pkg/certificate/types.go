package certificate

import (
	"encoding/json"
	"time"
)

// Field names, in the order validation checks them.
const (
	FieldRecipientName = "recipient_name"
	FieldInstitution   = "institution"
	FieldCertificateID = "certificate_id"
	FieldIssuedAt      = "issued_at"
	FieldTopic         = "topic"
)

// Field length limits (in characters, not bytes).
const (
	MaxRecipientNameLength = 100
	MaxInstitutionLength   = 200
	MaxTopicLength         = 150
	MaxCertificateIDLength = 64
)

// Record is an unvalidated certificate request as supplied by a caller.
// Field names follow the wire format; the legacy names user_name, college
// and test_id are accepted on decode.
type Record struct {
	RecipientName string `json:"recipient_name"`
	Institution   string `json:"institution"`
	Topic         string `json:"topic"`
	CertificateID string `json:"certificate_id"`
	IssuedAt      string `json:"issued_at"` // ISO-8601
	UserID        *int64 `json:"user_id,omitempty"`
	CourseID      *int64 `json:"course_id,omitempty"`
}

// UnmarshalJSON decodes a Record, falling back to legacy field names when
// the current ones are absent.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		UserName string `json:"user_name"`
		College  string `json:"college"`
		TestID   *int64 `json:"test_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*r = Record(aux.plain)
	if r.RecipientName == "" {
		r.RecipientName = aux.UserName
	}
	if r.Institution == "" {
		r.Institution = aux.College
	}
	if r.CourseID == nil {
		r.CourseID = aux.TestID
	}
	return nil
}

// Request is a validated certificate request. Every text field is trimmed
// and within bounds; IssuedAt is a parsed timestamp.
type Request struct {
	RecipientName string
	Institution   string
	Topic         string
	CertificateID string
	IssuedAt      time.Time
	UserID        *int64
	CourseID      *int64
}

// Record converts the request back into its wire form. IssuedAt is
// rendered as RFC 3339 so the result validates to an equal Request.
func (r *Request) Record() Record {
	return Record{
		RecipientName: r.RecipientName,
		Institution:   r.Institution,
		Topic:         r.Topic,
		CertificateID: r.CertificateID,
		IssuedAt:      r.IssuedAt.Format(time.RFC3339Nano),
		UserID:        r.UserID,
		CourseID:      r.CourseID,
	}
}
