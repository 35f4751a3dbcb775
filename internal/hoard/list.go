package hoard

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/certgen/internal/ledger"
)

// OutputFormat specifies how to format the list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with truncated columns
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete entries as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Source is the subset of *ledger.Ledger used here.
type Source interface {
	List(ctx context.Context) ([]ledger.Entry, error)
	Get(ctx context.Context, certificateID string) (ledger.Entry, error)
}

// FilterCriteria narrows the listing. All filters are ANDed together; zero
// values disable a filter.
type FilterCriteria struct {
	Since           time.Time // issued at or after
	Until           time.Time // issued at or before
	InstitutionGlob string    // case-insensitive glob on institution
	TopicGlob       string    // case-insensitive glob on topic
}

func (fc *FilterCriteria) matches(e ledger.Entry) bool {
	if !fc.Since.IsZero() && e.IssuedAt.Before(fc.Since) {
		return false
	}
	if !fc.Until.IsZero() && e.IssuedAt.After(fc.Until) {
		return false
	}
	return globMatch(fc.InstitutionGlob, e.Institution) && globMatch(fc.TopicGlob, e.Topic)
}

func globMatch(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(value))
	return err == nil && ok
}

// ListCertificates writes every entry matching filters to w in the given
// format. filters may be nil.
func ListCertificates(ctx context.Context, src Source, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	if filters != nil {
		for _, p := range []string{filters.InstitutionGlob, filters.TopicGlob} {
			if _, err := filepath.Match(p, ""); err != nil {
				return fmt.Errorf("invalid glob pattern %q: %w", p, err)
			}
		}
	}

	all, err := src.List(ctx)
	if err != nil {
		return err
	}

	entries := all[:0:0]
	for _, e := range all {
		if filters == nil || filters.matches(e) {
			entries = append(entries, e)
		}
	}

	switch format {
	case OutputFormatDefault, "":
		FormatTable(w, entries, time.Now())
	case OutputFormatJSONL:
		if err := FormatJSONL(w, entries); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}
