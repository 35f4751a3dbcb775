// Package pipeline runs one certificate through validation, token encoding,
// composition, conversion and finalization.
//
// A run owns a private scratch directory that is removed on every exit
// path. Only the final PDF leaves it, renamed into the output directory as
// {certificate_id}.pdf. Concurrent runs for the same ID race on that final
// rename and the last one wins.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/dyluth/certgen/internal/compose"
	"github.com/dyluth/certgen/pkg/certificate"
)

// TokenEncoder writes the verification token image.
type TokenEncoder interface {
	Encode(certificateID, scratchDir string) (string, error)
}

// ImageComposer places text and the token onto the template.
type ImageComposer interface {
	Compose(ctx context.Context, req *certificate.Request, tokenPath string, opts compose.Options) (string, error)
}

// DocumentConverter turns the composed image into a PDF.
type DocumentConverter interface {
	Convert(ctx context.Context, certificateID, imagePath, scratchDir string) (string, error)
}

// Recorder is told about every finalized certificate. Its failures are
// logged and never fail the run.
type Recorder interface {
	Record(ctx context.Context, req *certificate.Request, outputPath string) error
}

// Config is the per-generator configuration. Nothing in this package reads
// global state, so generators with different configs can run side by side.
type Config struct {
	TemplatePath string
	FontPath     string
	Layout       compose.Layout
	OutputDir    string
	ScratchDir   string
	Validator    certificate.Validator
}

// Generator produces certificates. It is safe for concurrent use.
type Generator struct {
	cfg       Config
	encoder   TokenEncoder
	composer  ImageComposer
	converter DocumentConverter
	recorder  Recorder
	observer  Observer
}

// Option customises a Generator.
type Option func(*Generator)

// WithRecorder registers r to be called after each successful finalize.
func WithRecorder(r Recorder) Option {
	return func(g *Generator) { g.recorder = r }
}

// WithObserver registers fn for state transitions.
func WithObserver(fn Observer) Option {
	return func(g *Generator) { g.observer = fn }
}

// New creates a Generator.
func New(cfg Config, encoder TokenEncoder, composer ImageComposer, converter DocumentConverter, opts ...Option) *Generator {
	g := &Generator{
		cfg:       cfg,
		encoder:   encoder,
		composer:  composer,
		converter: converter,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate validates record and runs the pipeline. It returns the final
// PDF path or a *PipelineError tagged with the failing stage.
func (g *Generator) Generate(ctx context.Context, record certificate.Record) (string, error) {
	req, err := g.cfg.Validator.Validate(record)
	if err != nil {
		g.transition(record.CertificateID, StateFailed)
		return "", &PipelineError{Stage: StageValidate, Err: err}
	}
	return g.GenerateRequest(ctx, req)
}

// GenerateRequest runs the pipeline for an already validated request.
func (g *Generator) GenerateRequest(ctx context.Context, req *certificate.Request) (path string, err error) {
	id := req.CertificateID
	g.transition(id, StateValidated)

	defer func() {
		if err != nil {
			g.transition(id, StateFailed)
			log.Printf("[ERROR] Certificate generation failed: certificate_id=%s error=%v", id, err)
		}
	}()

	if err := os.MkdirAll(g.cfg.ScratchDir, 0o755); err != nil {
		return "", &PipelineError{Stage: StageEncode, Err: fmt.Errorf("failed to create scratch root: %w", err)}
	}
	runDir, err := os.MkdirTemp(g.cfg.ScratchDir, id+"-*")
	if err != nil {
		return "", &PipelineError{Stage: StageEncode, Err: fmt.Errorf("failed to create run directory: %w", err)}
	}
	defer func() {
		if rmErr := os.RemoveAll(runDir); rmErr != nil {
			log.Printf("[WARN] Failed to remove scratch directory: dir=%s error=%v", runDir, rmErr)
		}
	}()

	tokenPath, err := g.encoder.Encode(id, runDir)
	if err != nil {
		return "", &PipelineError{Stage: StageEncode, Err: err}
	}
	g.transition(id, StateTokenEncoded)

	if err := ctx.Err(); err != nil {
		return "", &PipelineError{Stage: StageCompose, Err: err}
	}
	imagePath, err := g.composer.Compose(ctx, req, tokenPath, compose.Options{
		TemplatePath: g.cfg.TemplatePath,
		FontPath:     g.cfg.FontPath,
		Layout:       g.cfg.Layout,
		ScratchDir:   runDir,
	})
	if err != nil {
		return "", &PipelineError{Stage: StageCompose, Err: err}
	}
	g.transition(id, StateComposed)

	if err := ctx.Err(); err != nil {
		return "", &PipelineError{Stage: StageConvert, Err: err}
	}
	pdfPath, err := g.converter.Convert(ctx, id, imagePath, runDir)
	if err != nil {
		return "", &PipelineError{Stage: StageConvert, Err: err}
	}
	g.transition(id, StateConverted)

	finalPath, err := g.finalize(id, pdfPath)
	if err != nil {
		return "", &PipelineError{Stage: StageFinalize, Err: err}
	}
	g.transition(id, StateFinalized)

	if g.recorder != nil {
		if recErr := g.recorder.Record(ctx, req, finalPath); recErr != nil {
			log.Printf("[WARN] Failed to record issuance: certificate_id=%s error=%v", id, recErr)
		}
	}

	log.Printf("[INFO] Certificate generated: certificate_id=%s path=%s", id, finalPath)
	return finalPath, nil
}

// OutputPath is where the PDF for certificateID ends up.
func (g *Generator) OutputPath(certificateID string) string {
	return filepath.Join(g.cfg.OutputDir, certificateID+".pdf")
}

// finalize copies the PDF into a hidden temporary file in the output
// directory and renames it over the final name, so readers never observe a
// partially written file.
func (g *Generator) finalize(certificateID, pdfPath string) (string, error) {
	if err := os.MkdirAll(g.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	src, err := os.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("failed to open converted PDF: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(g.cfg.OutputDir, "."+certificateID+".pdf.*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary output: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write output: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to set output permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close output: %w", err)
	}

	final := g.OutputPath(certificateID)
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("failed to move output into place: %w", err)
	}
	committed = true
	return final, nil
}

func (g *Generator) transition(certificateID string, s State) {
	log.Printf("[DEBUG] Pipeline state: certificate_id=%s state=%s", certificateID, s)
	if g.observer != nil {
		g.observer(certificateID, s)
	}
}
