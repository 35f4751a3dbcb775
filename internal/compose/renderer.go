package compose

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/certgen/internal/toolexec"
)

// Overlay is an image composited onto the template in the same pass.
type Overlay struct {
	ImagePath string
	X         int
	Y         int
	Size      int
}

// RenderJob is everything the renderer needs for one composed image.
type RenderJob struct {
	TemplatePath string
	FontPath     string // empty selects the renderer's default font
	Directives   []RenderDirective
	Overlay      *Overlay
	OutputWidth  int
	OutputPath   string
}

// Renderer is the glyph-rendering collaborator.
type Renderer interface {
	Render(ctx context.Context, job RenderJob) error
}

// FFmpegRenderer renders with FFmpeg's drawtext and overlay filters.
type FFmpegRenderer struct {
	Binary  string // default "ffmpeg"
	Runner  toolexec.Runner
	Timeout time.Duration
}

// NewFFmpegRenderer returns a renderer that shells out to binary.
func NewFFmpegRenderer(binary string, runner toolexec.Runner, timeout time.Duration) *FFmpegRenderer {
	if binary == "" {
		binary = "ffmpeg"
	}
	if runner == nil {
		runner = toolexec.ExecRunner{}
	}
	return &FFmpegRenderer{Binary: binary, Runner: runner, Timeout: timeout}
}

// Render runs FFmpeg for job. A non-zero exit becomes a *CompositionError
// carrying the exit code and stderr.
func (r *FFmpegRenderer) Render(ctx context.Context, job RenderJob) error {
	cmd := toolexec.Command{Name: r.Binary, Args: BuildFFmpegArgs(job), Timeout: r.Timeout}

	_, err := r.Runner.Run(ctx, cmd)
	if err == nil {
		return nil
	}

	var exitErr *toolexec.ExitError
	if errors.As(err, &exitErr) {
		return &CompositionError{
			Reason:   "renderer exited non-zero",
			ExitCode: exitErr.ExitCode,
			Stderr:   exitErr.Stderr,
			Err:      err,
		}
	}
	return &CompositionError{Reason: "renderer invocation failed", ExitCode: -1, Err: err}
}

// BuildFFmpegArgs assembles the FFmpeg argument list for job.
//
// With an overlay the graph is:
//
//	[1:v]scale=S:S[token];[0:v][token]overlay=x=X:y=Y,drawtext=...,scale=W:-1
func BuildFFmpegArgs(job RenderJob) []string {
	args := []string{"-y", "-i", job.TemplatePath}

	var chain []string
	for _, d := range job.Directives {
		chain = append(chain, drawtextFilter(d, job.FontPath))
	}
	if job.OutputWidth > 0 {
		chain = append(chain, fmt.Sprintf("scale=%d:-1", job.OutputWidth))
	}

	if job.Overlay != nil {
		args = append(args, "-i", job.Overlay.ImagePath)
		graph := fmt.Sprintf("[1:v]scale=%d:%d[token];[0:v][token]overlay=x=%d:y=%d",
			job.Overlay.Size, job.Overlay.Size, job.Overlay.X, job.Overlay.Y)
		if len(chain) > 0 {
			graph += "," + strings.Join(chain, ",")
		}
		args = append(args, "-filter_complex", graph)
	} else if len(chain) > 0 {
		args = append(args, "-vf", strings.Join(chain, ","))
	}

	return append(args, "-frames:v", "1", "-q:v", "2", job.OutputPath)
}

func drawtextFilter(d RenderDirective, fontPath string) string {
	opts := []string{
		"expansion=none",
		"text=" + Escape(d.Text),
		"x=" + strconv.Itoa(d.X),
		"y=" + strconv.Itoa(d.Y),
		"fontsize=" + strconv.Itoa(d.Size),
		"fontcolor=" + d.Color,
	}
	if fontPath != "" {
		opts = append(opts, "fontfile="+Escape(fontPath))
	}
	return "drawtext=" + strings.Join(opts, ":")
}
