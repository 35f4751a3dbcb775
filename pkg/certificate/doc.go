// Package certificate defines the data contract for certificate issuance:
// the raw Record accepted from callers, the validated Request consumed by
// the production pipeline, and the validation rules that sit between them.
//
// # Overview
//
// A Record is whatever a caller hands over (CLI flags, a JSONL batch line, a
// queued task payload). Validate trims and checks every field and returns a
// Request whose invariants the rest of the system relies on:
//
//   - recipient_name, institution, topic are non-empty after trimming and
//     within 100, 200 and 150 characters respectively
//   - certificate_id matches [A-Za-z0-9_-]+ and is at most 64 characters,
//     which makes it safe as a filename stem and a Redis key segment
//   - issued_at parses as an ISO-8601 timestamp
//
// Validation is side-effect free and reports the first failing field in a
// fixed order: recipient_name, institution, certificate_id, issued_at, topic.
//
// # Usage Example
//
//	req, err := certificate.Validate(certificate.Record{
//		RecipientName: "Jane Doe",
//		Institution:   "Acme College",
//		Topic:         "Systems Design",
//		CertificateID: "CERT-0001",
//		IssuedAt:      "2024-01-15T10:00:00",
//	})
//	if err != nil {
//		var verr *certificate.ValidationError
//		if errors.As(err, &verr) {
//			log.Printf("[ERROR] bad field %s: %s", verr.Field, verr.Reason)
//		}
//	}
//
// Automatic certificate IDs are opt-in through Validator.AutoGenerateIDs.
package certificate
