package commands

import (
	"fmt"
	"log"
	"time"

	"github.com/dyluth/certgen/internal/compose"
	"github.com/dyluth/certgen/internal/config"
	"github.com/dyluth/certgen/internal/convert"
	"github.com/dyluth/certgen/internal/health"
	"github.com/dyluth/certgen/internal/ledger"
	"github.com/dyluth/certgen/internal/pipeline"
	"github.com/dyluth/certgen/internal/queue"
	"github.com/dyluth/certgen/internal/retention"
	"github.com/dyluth/certgen/internal/task"
	"github.com/dyluth/certgen/internal/token"
	"github.com/dyluth/certgen/internal/toolexec"
)

// app holds everything built from one configuration.
type app struct {
	cfg       *config.Config
	generator *pipeline.Generator
	runner    *task.Runner
	ledger    *ledger.Ledger // nil unless ledger.path is set
}

// newApp wires the pipeline stages, the optional ledger and the task runner.
func newApp(cfg *config.Config) (*app, error) {
	layout, err := cfg.BuildLayout()
	if err != nil {
		return nil, fmt.Errorf("failed to build layout: %w", err)
	}

	runner := toolexec.ExecRunner{}
	timeout := cfg.Tools.Timeout.Std()

	encoder := &token.Encoder{BaseURL: cfg.VerifyBaseURL}
	composer := compose.New(compose.NewFFmpegRenderer(cfg.Tools.FFmpeg, runner, timeout))
	converter := convert.New(converterBackends(cfg.Tools.Converters, runner, timeout), cfg.QualitySettings())

	a := &app{cfg: cfg}

	var opts []pipeline.Option
	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		a.ledger = l
		opts = append(opts, pipeline.WithRecorder(l))
		log.Printf("[INFO] Issuance ledger enabled: path=%s", cfg.Ledger.Path)
	}

	a.generator = pipeline.New(pipeline.Config{
		TemplatePath: cfg.Template,
		FontPath:     cfg.Font,
		Layout:       layout,
		OutputDir:    cfg.OutputDir,
		ScratchDir:   cfg.ScratchDir,
		Validator:    cfg.Validator(),
	}, encoder, composer, converter, opts...)

	a.runner = task.NewRunner(a.generator, cfg.RetryPolicy())
	return a, nil
}

// converterBackends returns one ImageMagick backend per binary, in order.
func converterBackends(binaries []string, runner toolexec.Runner, timeout time.Duration) []convert.Backend {
	backends := make([]convert.Backend, 0, len(binaries))
	for _, bin := range binaries {
		backends = append(backends, &convert.ImageMagick{Binary: bin, Runner: runner, Timeout: timeout})
	}
	return backends
}

// Close releases the ledger if one is open.
func (a *app) Close() error {
	if a.ledger != nil {
		return a.ledger.Close()
	}
	return nil
}

// newQueueClient connects to the configured broker.
func newQueueClient(cfg *config.Config) (*queue.Client, error) {
	client, err := queue.NewClientFromURL(cfg.Queue.RedisURL, cfg.Queue.Namespace, cfg.Queue.ResultTTL.Std())
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}
	return client, nil
}

// newChecker describes the dependencies health and doctor inspect. redis
// may be nil.
func newChecker(cfg *config.Config, redis health.Pinger) *health.Checker {
	return &health.Checker{
		TemplatePath: cfg.Template,
		FontPath:     cfg.Font,
		OutputDir:    cfg.OutputDir,
		ScratchDir:   cfg.ScratchDir,
		Renderer:     cfg.Tools.FFmpeg,
		Converters:   cfg.Tools.Converters,
		Redis:        redis,
	}
}

// sweepFunc runs one retention sweep with the configured thresholds.
func sweepFunc(cfg *config.Config) func() retention.Report {
	s := &retention.Sweeper{MaxAge: cfg.Retention.MaxAge.Std(), ScratchGrace: cfg.Retention.ScratchGrace.Std()}
	return func() retention.Report {
		return s.Sweep(cfg.OutputDir, cfg.ScratchDir)
	}
}
