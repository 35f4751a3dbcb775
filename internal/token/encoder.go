// Package token renders the verification QR code embedded in every certificate.
package token

import (
	"fmt"
	"image/color"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered edge length of the QR image in pixels.
const DefaultSize = 300

// recoveryLevel is fixed at the highest redundancy so the code stays
// scannable after JPEG compositing and PDF recompression.
const recoveryLevel = qrcode.Highest

var (
	foreground = color.RGBA{R: 0x2c, G: 0x3e, B: 0x50, A: 0xff}
	background = color.White
)

// EncodingError reports a failure to build or write a verification token.
type EncodingError struct {
	CertificateID string
	Err           error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode verification token for %s: %v", e.CertificateID, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Encoder builds token payloads and writes them as PNG images.
type Encoder struct {
	// BaseURL, when set, turns the payload into "<BaseURL>/<certificate_id>".
	BaseURL string

	// Size is the image edge in pixels; zero means DefaultSize.
	Size int
}

// Payload returns the string encoded in the token for certificateID.
func (e *Encoder) Payload(certificateID string) string {
	if e.BaseURL == "" {
		return "Certificate ID: " + certificateID
	}
	return strings.TrimRight(e.BaseURL, "/") + "/" + url.PathEscape(certificateID)
}

// Encode writes the token for certificateID to scratchDir and returns the
// image path. The filename is derived from the ID.
func (e *Encoder) Encode(certificateID, scratchDir string) (string, error) {
	if certificateID == "" {
		return "", &EncodingError{CertificateID: certificateID, Err: fmt.Errorf("certificate ID is empty")}
	}

	q, err := qrcode.New(e.Payload(certificateID), recoveryLevel)
	if err != nil {
		return "", &EncodingError{CertificateID: certificateID, Err: err}
	}
	q.ForegroundColor = foreground
	q.BackgroundColor = background

	size := e.Size
	if size <= 0 {
		size = DefaultSize
	}

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", &EncodingError{CertificateID: certificateID, Err: fmt.Errorf("failed to create scratch directory: %w", err)}
	}

	path := filepath.Join(scratchDir, certificateID+"_qr.png")
	if err := q.WriteFile(size, path); err != nil {
		return "", &EncodingError{CertificateID: certificateID, Err: fmt.Errorf("failed to write token image: %w", err)}
	}

	return path, nil
}
