// Package health reports whether the host can produce certificates: assets
// present, directories writable, external tools installed, broker reachable.
package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dyluth/certgen/internal/toolexec"
)

// Pinger is satisfied by the queue client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs the individual checks.
type Checker struct {
	TemplatePath string
	FontPath     string
	OutputDir    string
	ScratchDir   string
	Renderer     string   // renderer binary, e.g. "ffmpeg"
	Converters   []string // converter binaries; any one available is enough
	Redis        Pinger   // nil when running synchronously

	available func(name string) bool
}

// Report is the result of a check. The font is a soft dependency and does
// not affect Healthy.
type Report struct {
	TemplateExists     bool     `json:"template_exists"`
	FontExists         bool     `json:"font_exists"`
	OutputWritable     bool     `json:"output_writable"`
	ScratchWritable    bool     `json:"scratch_writable"`
	RendererAvailable  bool     `json:"renderer_available"`
	ConverterAvailable bool     `json:"converter_available"`
	Converter          string   `json:"converter,omitempty"`
	RedisChecked       bool     `json:"redis_checked"`
	RedisReachable     bool     `json:"redis_reachable"`
	Problems           []string `json:"problems,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

// Healthy reports whether every hard dependency is satisfied.
func (r Report) Healthy() bool {
	return len(r.Problems) == 0
}

// Check runs every check and never returns early.
func (c *Checker) Check(ctx context.Context) Report {
	available := c.available
	if available == nil {
		available = toolexec.Available
	}

	var r Report

	r.TemplateExists = isFile(c.TemplatePath)
	if !r.TemplateExists {
		r.Problems = append(r.Problems, fmt.Sprintf("template not found: %s", c.TemplatePath))
	}

	if c.FontPath == "" {
		r.Warnings = append(r.Warnings, "no font configured, the renderer default font is used")
	} else if r.FontExists = isFile(c.FontPath); !r.FontExists {
		r.Warnings = append(r.Warnings, fmt.Sprintf("font not found, the renderer default font is used: %s", c.FontPath))
	}

	if err := checkWritable(c.OutputDir); err != nil {
		r.Problems = append(r.Problems, fmt.Sprintf("output directory not writable: %v", err))
	} else {
		r.OutputWritable = true
	}
	if err := checkWritable(c.ScratchDir); err != nil {
		r.Problems = append(r.Problems, fmt.Sprintf("scratch directory not writable: %v", err))
	} else {
		r.ScratchWritable = true
	}

	r.RendererAvailable = c.Renderer != "" && available(c.Renderer)
	if !r.RendererAvailable {
		r.Problems = append(r.Problems, fmt.Sprintf("renderer not available: %q", c.Renderer))
	}

	for _, name := range c.Converters {
		if available(name) {
			r.ConverterAvailable = true
			r.Converter = name
			break
		}
	}
	if !r.ConverterAvailable {
		r.Problems = append(r.Problems, fmt.Sprintf("no converter available (tried %v)", c.Converters))
	}

	if c.Redis != nil {
		r.RedisChecked = true
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.Redis.Ping(pingCtx); err != nil {
			r.Problems = append(r.Problems, fmt.Sprintf("redis not reachable: %v", err))
		} else {
			r.RedisReachable = true
		}
	}

	return r
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func checkWritable(dir string) error {
	if dir == "" {
		return fmt.Errorf("not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".healthcheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
