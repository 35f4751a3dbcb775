// Package testutil provides fixtures shared by package tests and the
// end-to-end suite.
package testutil

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dyluth/certgen/internal/toolexec"
)

// TemplateWidth and TemplateHeight match the placements of the default layout.
const (
	TemplateWidth  = 2000
	TemplateHeight = 1414
)

// WriteTemplate writes a plain off-white JPEG of the default template size
// with a thin border and returns its path.
func WriteTemplate(t *testing.T, dir string) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, TemplateWidth, TemplateHeight))
	paper := color.RGBA{R: 250, G: 247, B: 240, A: 255}
	border := color.RGBA{R: 120, G: 90, B: 40, A: 255}
	for y := 0; y < TemplateHeight; y++ {
		for x := 0; x < TemplateWidth; x++ {
			c := paper
			if x < 20 || y < 20 || x >= TemplateWidth-20 || y >= TemplateHeight-20 {
				c = border
			}
			img.SetRGBA(x, y, c)
		}
	}

	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "certificate_template.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 90}))
	return path
}

// WriteConfig writes a certgen.yml into dir whose directories all live in
// dir, appends extra verbatim, and returns the config path.
func WriteConfig(t *testing.T, dir, templatePath, extra string) string {
	t.Helper()

	yml := "version: \"1.0\"\n" +
		"template: " + templatePath + "\n" +
		"output_dir: " + filepath.Join(dir, "certificates") + "\n" +
		"scratch_dir: " + filepath.Join(dir, "temp") + "\n" +
		extra
	path := filepath.Join(dir, "certgen.yml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))
	return path
}

// RequireTools skips the test unless every named binary is on PATH.
func RequireTools(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if !toolexec.Available(name) {
			t.Skipf("%s not installed", name)
		}
	}
}

// RequireConverter skips the test unless an ImageMagick binary is on PATH
// and returns the one found.
func RequireConverter(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"magick", "convert"} {
		if toolexec.Available(name) {
			return name
		}
	}
	t.Skip("ImageMagick not installed")
	return ""
}
