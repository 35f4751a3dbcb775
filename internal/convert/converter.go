// Package convert turns the composed raster image into a PDF document.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dyluth/certgen/internal/toolexec"
)

// DefaultMaxBytes is the size above which output is re-encoded at lower quality.
const DefaultMaxBytes int64 = 3 * 1024 * 1024

var pdfMagic = []byte("%PDF-")

// Quality controls conversion output.
type Quality struct {
	Density     int   // DPI used to interpret the raster
	Quality     int   // initial JPEG quality, 1-100
	MinQuality  int   // lowest quality tried when shrinking
	QualityStep int   // quality decrement per shrink attempt
	MaxBytes    int64 // 0 disables shrinking
}

// DefaultQuality matches the stock template.
func DefaultQuality() Quality {
	return Quality{Density: 200, Quality: 85, MinQuality: 55, QualityStep: 10, MaxBytes: DefaultMaxBytes}
}

// ConversionError reports a failure to produce a valid PDF.
type ConversionError struct {
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return "conversion failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "conversion failed: " + e.Reason
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Backend is one way of producing a PDF from an image.
type Backend interface {
	Name() string
	Convert(ctx context.Context, imagePath, pdfPath string, density, quality int) error
}

// ImageMagick converts with an ImageMagick binary ("magick" on v7, "convert" on v6).
type ImageMagick struct {
	Binary  string
	Runner  toolexec.Runner
	Timeout time.Duration
}

func (m *ImageMagick) Name() string { return m.Binary }

// Convert runs: <binary> <image> -density D -quality Q -compress jpeg <pdf>
func (m *ImageMagick) Convert(ctx context.Context, imagePath, pdfPath string, density, quality int) error {
	runner := m.Runner
	if runner == nil {
		runner = toolexec.ExecRunner{}
	}
	_, err := runner.Run(ctx, toolexec.Command{
		Name: m.Binary,
		Args: []string{
			imagePath,
			"-density", strconv.Itoa(density),
			"-quality", strconv.Itoa(quality),
			"-compress", "jpeg",
			pdfPath,
		},
		Timeout: m.Timeout,
	})
	return err
}

// DefaultBackends tries ImageMagick 7 and then the legacy v6 entry point.
func DefaultBackends(runner toolexec.Runner, timeout time.Duration) []Backend {
	return []Backend{
		&ImageMagick{Binary: "magick", Runner: runner, Timeout: timeout},
		&ImageMagick{Binary: "convert", Runner: runner, Timeout: timeout},
	}
}

// Converter produces PDFs through an ordered list of backends. The first
// backend that yields a valid PDF wins.
type Converter struct {
	backends []Backend
	quality  Quality
}

// New creates a Converter.
func New(backends []Backend, q Quality) *Converter {
	return &Converter{backends: backends, quality: q}
}

// Convert writes scratchDir/{id}.pdf from imagePath and returns its path.
// Output above Quality.MaxBytes is re-encoded at decreasing quality; the
// smallest attempt is kept.
func (c *Converter) Convert(ctx context.Context, certificateID, imagePath, scratchDir string) (string, error) {
	info, err := os.Stat(imagePath)
	if err != nil || info.Size() == 0 {
		return "", &ConversionError{Reason: fmt.Sprintf("source image missing or empty: %s", imagePath), Err: err}
	}

	pdfPath := filepath.Join(scratchDir, certificateID+".pdf")
	backend, size, err := c.firstSuccess(ctx, imagePath, pdfPath, c.quality.Quality)
	if err != nil {
		return "", err
	}

	q := c.quality
	if q.MaxBytes <= 0 || size <= q.MaxBytes || q.QualityStep <= 0 {
		return pdfPath, nil
	}

	log.Printf("[INFO] PDF exceeds size target, re-encoding: certificate_id=%s size=%d max=%d", certificateID, size, q.MaxBytes)
	best := size
	for quality := q.Quality - q.QualityStep; quality >= q.MinQuality && best > q.MaxBytes; quality -= q.QualityStep {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := filepath.Join(scratchDir, fmt.Sprintf("%s.q%d.pdf", certificateID, quality))
		if err := backend.Convert(ctx, imagePath, candidate, q.Density, quality); err != nil {
			log.Printf("[WARN] Re-encode failed: certificate_id=%s quality=%d error=%v", certificateID, quality, err)
			break
		}
		candSize, err := VerifyPDF(candidate)
		if err != nil || candSize >= best {
			_ = os.Remove(candidate)
			continue
		}
		if err := os.Rename(candidate, pdfPath); err != nil {
			return "", &ConversionError{Reason: "failed to replace oversized PDF", Err: err}
		}
		best = candSize
	}

	if best > q.MaxBytes {
		log.Printf("[WARN] PDF still exceeds size target: certificate_id=%s size=%d max=%d", certificateID, best, q.MaxBytes)
	}
	return pdfPath, nil
}

func (c *Converter) firstSuccess(ctx context.Context, imagePath, pdfPath string, quality int) (Backend, int64, error) {
	if len(c.backends) == 0 {
		return nil, 0, &ConversionError{Reason: "no conversion backends configured"}
	}

	var errs []error
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		err := b.Convert(ctx, imagePath, pdfPath, c.quality.Density, quality)
		if err == nil {
			size, verr := VerifyPDF(pdfPath)
			if verr == nil {
				log.Printf("[DEBUG] Converted with backend=%s size=%d", b.Name(), size)
				return b, size, nil
			}
			err = verr
		}
		if errors.Is(err, context.Canceled) {
			return nil, 0, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return nil, 0, &ConversionError{Reason: "all backends failed", Err: errors.Join(errs...)}
}

// VerifyPDF checks path is a non-empty file starting with the PDF header and
// returns its size.
func VerifyPDF(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat PDF: %w", err)
	}
	if info.Size() == 0 {
		return 0, errors.New("PDF is empty")
	}

	header := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, header); err != nil || !bytes.Equal(header, pdfMagic) {
		return 0, errors.New("output is not a PDF")
	}
	return info.Size(), nil
}
