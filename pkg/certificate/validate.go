package certificate

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

var certificateIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// issuedAtLayouts are the ISO-8601 shapes accepted for issued_at, tried in
// order. Layouts without a zone are interpreted as UTC.
var issuedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Validator turns Records into Requests.
// The zero value rejects records without a certificate_id.
type Validator struct {
	// AutoGenerateIDs derives a certificate_id from issued_at plus a random
	// suffix when the record has none.
	AutoGenerateIDs bool

	// newSuffix is replaceable in tests.
	newSuffix func() string
}

// Validate checks r with the default Validator.
func Validate(r Record) (*Request, error) {
	return Validator{}.Validate(r)
}

// Validate trims and checks every field of r. It returns a
// *ValidationError naming the first offending field.
func (v Validator) Validate(r Record) (*Request, error) {
	name, err := checkText(FieldRecipientName, r.RecipientName, MaxRecipientNameLength)
	if err != nil {
		return nil, err
	}

	institution, err := checkText(FieldInstitution, r.Institution, MaxInstitutionLength)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(r.CertificateID)
	generateID := false
	if id == "" {
		if !v.AutoGenerateIDs {
			return nil, invalid(FieldCertificateID, "is required")
		}
		generateID = true
	} else if err := checkCertificateID(id); err != nil {
		return nil, err
	}

	issuedAt, err := ParseIssuedAt(r.IssuedAt)
	if err != nil {
		return nil, err
	}

	topic, err := checkText(FieldTopic, r.Topic, MaxTopicLength)
	if err != nil {
		return nil, err
	}

	if generateID {
		id = v.generateID(issuedAt)
	}

	return &Request{
		RecipientName: name,
		Institution:   institution,
		Topic:         topic,
		CertificateID: id,
		IssuedAt:      issuedAt,
		UserID:        r.UserID,
		CourseID:      r.CourseID,
	}, nil
}

// ParseIssuedAt parses an ISO-8601 timestamp as accepted for issued_at.
func ParseIssuedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, invalid(FieldIssuedAt, "is required")
	}
	for _, layout := range issuedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid(FieldIssuedAt, "must be an ISO-8601 timestamp, got %q", s)
}

func (v Validator) generateID(issuedAt time.Time) string {
	suffix := ""
	if v.newSuffix != nil {
		suffix = v.newSuffix()
	} else {
		suffix = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}
	return fmt.Sprintf("CERT-%s-%s", issuedAt.UTC().Format("20060102-150405"), suffix)
}

func checkText(field, value string, maxLen int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalid(field, "must not be empty")
	}
	if !utf8.ValidString(value) {
		return "", invalid(field, "must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(value); n > maxLen {
		return "", invalid(field, "must be at most %d characters, got %d", maxLen, n)
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return "", invalid(field, "must not contain control characters")
		}
	}
	return value, nil
}

func checkCertificateID(id string) error {
	if len(id) > MaxCertificateIDLength {
		return invalid(FieldCertificateID, "must be at most %d characters, got %d", MaxCertificateIDLength, len(id))
	}
	if !certificateIDPattern.MatchString(id) {
		return invalid(FieldCertificateID, "may only contain letters, digits, '-' and '_', got %q", id)
	}
	return nil
}
