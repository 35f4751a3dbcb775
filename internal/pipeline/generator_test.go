package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/certgen/internal/compose"
	"github.com/dyluth/certgen/internal/convert"
	"github.com/dyluth/certgen/internal/token"
	"github.com/dyluth/certgen/pkg/certificate"
)

type fakeComposer struct {
	err error
}

func (f *fakeComposer) Compose(_ context.Context, req *certificate.Request, tokenPath string, opts compose.Options) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return "", fmt.Errorf("token missing: %w", err)
	}
	out := filepath.Join(opts.ScratchDir, req.CertificateID+"_composed.jpg")
	return out, os.WriteFile(out, []byte("jpeg:"+req.RecipientName), 0o644)
}

// pdfConverter writes a PDF whose body is the composed image bytes.
type pdfConverter struct {
	err error
}

func (f *pdfConverter) Convert(_ context.Context, id, imagePath, scratchDir string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return "", err
	}
	out := filepath.Join(scratchDir, id+".pdf")
	return out, os.WriteFile(out, append([]byte("%PDF-1.4\n"), img...), 0o644)
}

// failingEncoder leaves a partial token file behind before failing.
type failingEncoder struct {
	err error
}

func (f *failingEncoder) Encode(certificateID, scratchDir string) (string, error) {
	partial := filepath.Join(scratchDir, certificateID+"_qr.png")
	if err := os.WriteFile(partial, []byte("partial"), 0o644); err != nil {
		return "", err
	}
	return "", f.err
}

type recordingRecorder struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (r *recordingRecorder) Record(_ context.Context, _ *certificate.Request, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return r.err
}

func testConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	return Config{
		TemplatePath: filepath.Join(root, "template.jpg"),
		Layout:       compose.DefaultLayout(),
		OutputDir:    filepath.Join(root, "output"),
		ScratchDir:   filepath.Join(root, "scratch"),
	}
}

func sampleRecord() certificate.Record {
	return certificate.Record{
		RecipientName: "Jane Doe",
		Institution:   "Acme College",
		Topic:         "Systems Design",
		CertificateID: "CERT-0001",
		IssuedAt:      "2024-01-15T10:00:00",
	}
}

func assertScratchEmpty(t *testing.T, cfg Config) {
	t.Helper()
	entries, err := os.ReadDir(cfg.ScratchDir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory should be cleaned")
}

func TestGenerate_Success(t *testing.T) {
	cfg := testConfig(t)
	var states []State
	g := New(cfg, &token.Encoder{}, &fakeComposer{}, &pdfConverter{},
		WithObserver(func(_ string, s State) { states = append(states, s) }))

	path, err := g.Generate(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "CERT-0001.pdf"), path)

	size, err := convert.VerifyPDF(path)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	assert.Equal(t, []State{StateValidated, StateTokenEncoded, StateComposed, StateConverted, StateFinalized}, states)
	assertScratchEmpty(t, cfg)

	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the final PDF should be in the output directory")
}

func TestGenerate_ValidationFailure(t *testing.T) {
	cfg := testConfig(t)
	g := New(cfg, &token.Encoder{}, &fakeComposer{}, &pdfConverter{})

	rec := sampleRecord()
	rec.RecipientName = "   "
	_, err := g.Generate(context.Background(), rec)

	var pErr *PipelineError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, StageValidate, pErr.Stage)

	var vErr *certificate.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, certificate.FieldRecipientName, vErr.Field)

	_, statErr := os.Stat(cfg.ScratchDir)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "no files are created before validation passes")
}

func TestGenerate_StageFailuresCleanScratch(t *testing.T) {
	encErr := &token.EncodingError{CertificateID: "CERT-0001", Err: errors.New("payload too large")}
	compErr := &compose.CompositionError{Reason: "boom", ExitCode: 1}
	convErr := &convert.ConversionError{Reason: "bad pdf"}

	tests := []struct {
		name      string
		encoder   TokenEncoder
		composer  ImageComposer
		converter DocumentConverter
		setup     func(t *testing.T, cfg Config)
		clearID   bool
		stage     Stage
		target    error
	}{
		{name: "encode", encoder: &failingEncoder{err: encErr}, composer: &fakeComposer{}, converter: &pdfConverter{},
			stage: StageEncode, target: encErr},
		{name: "encode empty id", encoder: &token.Encoder{}, composer: &fakeComposer{}, converter: &pdfConverter{},
			clearID: true, stage: StageEncode},
		{name: "compose", encoder: &token.Encoder{}, composer: &fakeComposer{err: compErr}, converter: &pdfConverter{},
			stage: StageCompose, target: compErr},
		{name: "convert", encoder: &token.Encoder{}, composer: &fakeComposer{}, converter: &pdfConverter{err: convErr},
			stage: StageConvert, target: convErr},
		{name: "finalize output dir is a file", encoder: &token.Encoder{}, composer: &fakeComposer{}, converter: &pdfConverter{},
			setup: func(t *testing.T, cfg Config) {
				require.NoError(t, os.WriteFile(cfg.OutputDir, []byte("not a dir"), 0o644))
			},
			stage: StageFinalize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			if tt.setup != nil {
				tt.setup(t, cfg)
			}
			var last State
			g := New(cfg, tt.encoder, tt.composer, tt.converter,
				WithObserver(func(_ string, s State) { last = s }))

			req, err := certificate.Validate(sampleRecord())
			require.NoError(t, err)
			if tt.clearID {
				req.CertificateID = ""
			}

			_, err = g.GenerateRequest(context.Background(), req)
			var pErr *PipelineError
			require.ErrorAs(t, err, &pErr)
			assert.Equal(t, tt.stage, pErr.Stage)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			assert.Equal(t, StateFailed, last)

			assertScratchEmpty(t, cfg)
			_, statErr := os.Stat(g.OutputPath("CERT-0001"))
			assert.Error(t, statErr)
		})
	}
}

func TestGenerate_UnwritableScratchRoot(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.ScratchDir, []byte("not a dir"), 0o644))
	g := New(cfg, &token.Encoder{}, &fakeComposer{}, &pdfConverter{})

	_, err := g.Generate(context.Background(), sampleRecord())
	var pErr *PipelineError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, StageEncode, pErr.Stage)

	_, statErr := os.Stat(g.OutputPath("CERT-0001"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestGenerate_OverwritesPreviousOutput(t *testing.T) {
	cfg := testConfig(t)
	g := New(cfg, &token.Encoder{}, &fakeComposer{}, &pdfConverter{})

	rec := sampleRecord()
	path, err := g.Generate(context.Background(), rec)
	require.NoError(t, err)

	rec.RecipientName = "John Roe"
	path2, err := g.Generate(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, path, path2)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4\njpeg:John Roe", string(data))
}

func TestGenerate_ConcurrentSameID(t *testing.T) {
	cfg := testConfig(t)
	g := New(cfg, &token.Encoder{}, &fakeComposer{}, &pdfConverter{})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Generate(context.Background(), sampleRecord())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assertScratchEmpty(t, cfg)

	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "CERT-0001.pdf", entries[0].Name())
}

func TestGenerate_RecorderFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	rec := &recordingRecorder{err: errors.New("db locked")}
	g := New(cfg, &token.Encoder{}, &fakeComposer{}, &pdfConverter{}, WithRecorder(rec))

	path, err := g.Generate(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, []string{path}, rec.paths)
}

func TestGenerate_CanceledContext(t *testing.T) {
	cfg := testConfig(t)
	g := New(cfg, &token.Encoder{}, &fakeComposer{}, &pdfConverter{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, sampleRecord())
	assert.ErrorIs(t, err, context.Canceled)
	assertScratchEmpty(t, cfg)
}

func TestPipelineError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	pe := &PipelineError{Stage: StageFinalize, Err: inner}
	assert.Equal(t, "finalize: inner", pe.Error())
	assert.ErrorIs(t, pe, inner)
}
