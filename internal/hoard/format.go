// Package hoard lists and prints the certificates recorded in the ledger.
package hoard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/dyluth/certgen/internal/ledger"
)

// FormatTable writes entries as a table with columns ID, RECIPIENT,
// INSTITUTION, TOPIC, ISSUED and AGE. Returns the number of entries written.
func FormatTable(w io.Writer, entries []ledger.Entry, now time.Time) int {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No certificates found")
		return 0
	}

	fmt.Fprintf(w, "%-24s %-24s %-24s %-20s %-10s %s\n",
		"ID", "RECIPIENT", "INSTITUTION", "TOPIC", "ISSUED", "AGE")
	fmt.Fprintf(w, "%-24s %-24s %-24s %-20s %-10s %s\n",
		"------------------------", "------------------------", "------------------------", "--------------------", "----------", "--------")

	for _, e := range entries {
		fmt.Fprintf(w, "%s %s %s %s %-10s %s\n",
			pad(e.CertificateID, 24),
			pad(e.RecipientName, 24),
			pad(e.Institution, 24),
			pad(e.Topic, 20),
			e.IssuedAt.Format("2006-01-02"),
			formatAge(e.GeneratedAt, now),
		)
	}

	noun := "certificate"
	if len(entries) != 1 {
		noun = "certificates"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(entries), noun)

	return len(entries)
}

// FormatJSONL writes one compact JSON object per entry.
func FormatJSONL(w io.Writer, entries []ledger.Entry) error {
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one entry as indented JSON.
func FormatSingleJSON(w io.Writer, e ledger.Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// pad truncates s to width runes, marking the cut with "...", and pads it
// with spaces to exactly width runes. Empty values print as "-".
func pad(s string, width int) string {
	if s == "" {
		s = "-"
	}
	if n := utf8.RuneCountInString(s); n > width {
		r := []rune(s)
		s = string(r[:width-3]) + "..."
	}
	for n := utf8.RuneCountInString(s); n < width; n++ {
		s += " "
	}
	return s
}

// formatAge renders the time since t as "45s ago", "3m ago", "2h ago" or
// "5d ago".
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
