package hoard

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dyluth/certgen/internal/ledger"
)

// GetCertificate writes the entry for certificateID as indented JSON.
func GetCertificate(ctx context.Context, src Source, certificateID string, w io.Writer) error {
	e, err := src.Get(ctx, certificateID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return &CertificateNotFoundError{CertificateID: certificateID}
		}
		return fmt.Errorf("failed to fetch certificate: %w", err)
	}

	if err := FormatSingleJSON(w, e); err != nil {
		return fmt.Errorf("failed to format certificate: %w", err)
	}
	return nil
}

// CertificateNotFoundError reports an ID the ledger has no entry for.
type CertificateNotFoundError struct {
	CertificateID string
}

func (e *CertificateNotFoundError) Error() string {
	return fmt.Sprintf("certificate '%s' not found", e.CertificateID)
}

// IsNotFound returns true if the error is a CertificateNotFoundError.
func IsNotFound(err error) bool {
	var nf *CertificateNotFoundError
	return errors.As(err, &nf)
}
