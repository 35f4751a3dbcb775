package compose

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dyluth/certgen/pkg/certificate"
)

// Options carries the per-run inputs of Compose.
type Options struct {
	TemplatePath string
	FontPath     string
	Layout       Layout
	ScratchDir   string
}

// Composer turns a validated request into a composed image.
type Composer struct {
	renderer Renderer
}

// New creates a Composer backed by renderer.
func New(renderer Renderer) *Composer {
	return &Composer{renderer: renderer}
}

// Compose renders req and the token image onto the template and returns the
// composed image path inside opts.ScratchDir.
//
// A missing template is fatal; a missing font falls back to the renderer's
// default font with a warning.
func (c *Composer) Compose(ctx context.Context, req *certificate.Request, tokenPath string, opts Options) (string, error) {
	if !regularFile(opts.TemplatePath) {
		return "", &CompositionError{Reason: fmt.Sprintf("template not found: %s", opts.TemplatePath), ExitCode: -1}
	}

	fontPath := opts.FontPath
	if fontPath != "" && !regularFile(fontPath) {
		log.Printf("[WARN] Font not found, using system default: font=%s certificate_id=%s", fontPath, req.CertificateID)
		fontPath = ""
	}

	if err := opts.Layout.Validate(); err != nil {
		return "", &CompositionError{Reason: "invalid layout", ExitCode: -1, Err: err}
	}

	job := RenderJob{
		TemplatePath: opts.TemplatePath,
		FontPath:     fontPath,
		Directives:   BuildDirectives(req, opts.Layout),
		OutputWidth:  opts.Layout.OutputWidth,
		OutputPath:   filepath.Join(opts.ScratchDir, req.CertificateID+"_composed.jpg"),
	}
	if tokenPath != "" {
		job.Overlay = &Overlay{
			ImagePath: tokenPath,
			X:         opts.Layout.Token.X,
			Y:         opts.Layout.Token.Y,
			Size:      opts.Layout.Token.Size,
		}
	}

	log.Printf("[DEBUG] Rendering composed image: certificate_id=%s directives=%d", req.CertificateID, len(job.Directives))
	if err := c.renderer.Render(ctx, job); err != nil {
		return "", err
	}

	info, err := os.Stat(job.OutputPath)
	if err != nil || info.Size() == 0 {
		return "", &CompositionError{Reason: "renderer produced no output image", ExitCode: -1, Err: err}
	}

	return job.OutputPath, nil
}

func regularFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
