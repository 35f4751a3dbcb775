// Package config loads certgen.yml.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/certgen/internal/compose"
	"github.com/dyluth/certgen/internal/convert"
	"github.com/dyluth/certgen/internal/retention"
	"github.com/dyluth/certgen/internal/task"
	"github.com/dyluth/certgen/internal/timespec"
	"github.com/dyluth/certgen/pkg/certificate"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "certgen.yml"

// Execution modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Config represents the top-level certgen.yml configuration.
type Config struct {
	Version         string          `yaml:"version" validate:"required"`
	Template        string          `yaml:"template" validate:"required"`
	Font            string          `yaml:"font,omitempty"`
	VerifyBaseURL   string          `yaml:"verify_base_url,omitempty" validate:"omitempty,url"`
	AutoGenerateIDs bool            `yaml:"auto_generate_ids,omitempty"`
	OutputDir       string          `yaml:"output_dir" validate:"required"`
	ScratchDir      string          `yaml:"scratch_dir" validate:"required"`
	Layout          *LayoutConfig   `yaml:"layout,omitempty"`
	Quality         QualityConfig   `yaml:"quality"`
	Retention       RetentionConfig `yaml:"retention"`
	Retry           RetryConfig     `yaml:"retry"`
	Execution       ExecutionConfig `yaml:"execution"`
	Queue           QueueConfig     `yaml:"queue"`
	Worker          WorkerConfig    `yaml:"worker"`
	Tools           ToolsConfig     `yaml:"tools"`
	Ledger          LedgerConfig    `yaml:"ledger"`
}

// PlacementConfig positions one line of text. Color defaults to black.
type PlacementConfig struct {
	X      int    `yaml:"x" validate:"gte=0"`
	Y      int    `yaml:"y" validate:"gte=0"`
	Size   int    `yaml:"size" validate:"gt=0"`
	Color  string `yaml:"color,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// StaticTextConfig is fixed text drawn on every certificate.
type StaticTextConfig struct {
	Text            string `yaml:"text" validate:"required"`
	PlacementConfig `yaml:",inline"`
}

// TokenConfig positions the verification QR code.
type TokenConfig struct {
	X    int `yaml:"x" validate:"gte=0"`
	Y    int `yaml:"y" validate:"gte=0"`
	Size int `yaml:"size" validate:"gt=0"`
}

// LayoutConfig overrides the default layout. Fields not listed keep their
// default placement; a field mapped to null is removed.
type LayoutConfig struct {
	Fields      map[string]*PlacementConfig `yaml:"fields,omitempty"`
	Static      []StaticTextConfig          `yaml:"static,omitempty" validate:"dive"`
	Token       *TokenConfig                `yaml:"token,omitempty"`
	OutputWidth *int                        `yaml:"output_width,omitempty" validate:"omitempty,gte=0"`
}

// QualityConfig controls PDF conversion. A negative max_bytes disables
// size optimisation.
type QualityConfig struct {
	Density     int   `yaml:"density,omitempty" validate:"gte=0,lte=1200"`
	Quality     int   `yaml:"quality,omitempty" validate:"gte=0,lte=100"`
	MinQuality  int   `yaml:"min_quality,omitempty" validate:"gte=0,lte=100"`
	QualityStep int   `yaml:"quality_step,omitempty" validate:"gte=0,lte=50"`
	MaxBytes    int64 `yaml:"max_bytes,omitempty"`
}

// RetentionConfig controls the sweep.
type RetentionConfig struct {
	MaxAge       timespec.Duration `yaml:"max_age,omitempty"`
	ScratchGrace timespec.Duration `yaml:"scratch_grace,omitempty"`
}

// RetryConfig controls retries of transient failures.
type RetryConfig struct {
	MaxRetries  *int              `yaml:"max_retries,omitempty" validate:"omitempty,gte=0,lte=20"`
	BackoffBase timespec.Duration `yaml:"backoff_base,omitempty"`
	BackoffMax  timespec.Duration `yaml:"backoff_max,omitempty"`
}

// ExecutionConfig selects inline or queued execution.
type ExecutionConfig struct {
	Mode          string            `yaml:"mode,omitempty" validate:"omitempty,oneof=sync async"`
	WaitForResult *bool             `yaml:"wait_for_result,omitempty"`
	WaitTimeout   timespec.Duration `yaml:"wait_timeout,omitempty"`
}

// QueueConfig points at the Redis broker and result store.
type QueueConfig struct {
	RedisURL  string            `yaml:"redis_url,omitempty"`
	Namespace string            `yaml:"namespace,omitempty" validate:"omitempty,excludesall=:"`
	ResultTTL timespec.Duration `yaml:"result_ttl,omitempty"`
}

// WorkerConfig controls `certgen worker`.
type WorkerConfig struct {
	Concurrency    int               `yaml:"concurrency,omitempty" validate:"gte=0,lte=256"`
	SweepInterval  timespec.Duration `yaml:"sweep_interval,omitempty"`
	TaskTimeout    timespec.Duration `yaml:"task_timeout,omitempty"`
	HealthPort     int               `yaml:"health_port,omitempty" validate:"gte=0,lte=65535"`
	HeartbeatTTL   timespec.Duration `yaml:"heartbeat_ttl,omitempty"`
	RequeueOnStart *bool             `yaml:"requeue_on_start,omitempty"`
}

// ToolsConfig names the external binaries.
type ToolsConfig struct {
	FFmpeg     string            `yaml:"ffmpeg,omitempty"`
	Converters []string          `yaml:"converters,omitempty"`
	Timeout    timespec.Duration `yaml:"timeout,omitempty"`
}

// LedgerConfig enables the SQLite issuance ledger when Path is set.
type LedgerConfig struct {
	Path string `yaml:"path,omitempty"`
}

var validate = validator.New()

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		Version:    "1.0",
		Template:   "templates/certificate_template.jpg",
		Font:       "fonts/Open Sans Bold.ttf",
		OutputDir:  "certificates",
		ScratchDir: "temp",
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads, applies environment overrides to, and validates the config
// at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overrides settings from the environment:
//
//	CERTGEN_REDIS_URL (or REDIS_URL)  queue.redis_url
//	CERTGEN_OUTPUT_DIR                output_dir
//	CERTGEN_SCRATCH_DIR               scratch_dir
//	ASYNC_MODE                        execution.mode (true = async)
//	WAIT_FOR_RESULT                   execution.wait_for_result
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("CERTGEN_REDIS_URL"); v != "" {
		c.Queue.RedisURL = v
	} else if v := getenv("REDIS_URL"); v != "" {
		c.Queue.RedisURL = v
	}
	if v := getenv("CERTGEN_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := getenv("CERTGEN_SCRATCH_DIR"); v != "" {
		c.ScratchDir = v
	}
	if v := getenv("ASYNC_MODE"); v != "" {
		async, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ASYNC_MODE: %w", err)
		}
		c.Execution.Mode = ModeSync
		if async {
			c.Execution.Mode = ModeAsync
		}
	}
	if v := getenv("WAIT_FOR_RESULT"); v != "" {
		wait, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("WAIT_FOR_RESULT: %w", err)
		}
		c.Execution.WaitForResult = &wait
	}
	return nil
}

// Validate applies defaults and performs strict validation.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	c.applyDefaults()

	if c.Quality.MinQuality > c.Quality.Quality {
		return fmt.Errorf("quality.min_quality (%d) must not exceed quality.quality (%d)", c.Quality.MinQuality, c.Quality.Quality)
	}
	if c.Retry.BackoffMax.Std() < c.Retry.BackoffBase.Std() {
		return fmt.Errorf("retry.backoff_max (%s) must be >= retry.backoff_base (%s)", c.Retry.BackoffMax.Std(), c.Retry.BackoffBase.Std())
	}
	if c.Execution.Mode == ModeAsync && c.Queue.RedisURL == "" {
		return fmt.Errorf("execution.mode=async requires queue.redis_url (or CERTGEN_REDIS_URL)")
	}
	if len(c.Tools.Converters) == 0 {
		return fmt.Errorf("tools.converters must list at least one binary")
	}

	layout, err := c.BuildLayout()
	if err != nil {
		return err
	}
	return layout.Validate()
}

func (c *Config) applyDefaults() {
	q := &c.Quality
	def := convert.DefaultQuality()
	if q.Density == 0 {
		q.Density = def.Density
	}
	if q.Quality == 0 {
		q.Quality = def.Quality
	}
	if q.MinQuality == 0 {
		q.MinQuality = min(def.MinQuality, q.Quality)
	}
	if q.QualityStep == 0 {
		q.QualityStep = def.QualityStep
	}
	if q.MaxBytes == 0 {
		q.MaxBytes = def.MaxBytes
	}

	if c.Retention.MaxAge == 0 {
		c.Retention.MaxAge = timespec.Duration(30 * 24 * time.Hour)
	}
	if c.Retention.ScratchGrace == 0 {
		c.Retention.ScratchGrace = timespec.Duration(retention.DefaultScratchGrace)
	}

	retry := task.DefaultRetryPolicy()
	if c.Retry.MaxRetries == nil {
		c.Retry.MaxRetries = &retry.MaxRetries
	}
	if c.Retry.BackoffBase == 0 {
		c.Retry.BackoffBase = timespec.Duration(retry.BackoffBase)
	}
	if c.Retry.BackoffMax == 0 {
		c.Retry.BackoffMax = timespec.Duration(max(retry.BackoffMax, c.Retry.BackoffBase.Std()))
	}

	if c.Execution.Mode == "" {
		c.Execution.Mode = ModeSync
	}
	if c.Execution.WaitForResult == nil {
		wait := true
		c.Execution.WaitForResult = &wait
	}
	if c.Execution.WaitTimeout == 0 {
		c.Execution.WaitTimeout = timespec.Duration(5 * time.Minute)
	}

	if c.Queue.Namespace == "" {
		c.Queue.Namespace = "default"
	}
	if c.Queue.ResultTTL == 0 {
		c.Queue.ResultTTL = timespec.Duration(time.Hour)
	}

	if c.Worker.SweepInterval == 0 {
		c.Worker.SweepInterval = timespec.Duration(24 * time.Hour)
	}
	if c.Worker.TaskTimeout == 0 {
		c.Worker.TaskTimeout = timespec.Duration(10 * time.Minute)
	}
	if c.Worker.RequeueOnStart == nil {
		requeue := true
		c.Worker.RequeueOnStart = &requeue
	}

	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
	if c.Tools.Converters == nil {
		c.Tools.Converters = []string{"magick", "convert"}
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = timespec.Duration(2 * time.Minute)
	}
}

// BuildLayout merges the layout section onto compose.DefaultLayout.
func (c *Config) BuildLayout() (compose.Layout, error) {
	layout := compose.DefaultLayout()
	if c.Layout == nil {
		return layout, nil
	}

	for name, p := range c.Layout.Fields {
		field := compose.Field(name)
		if _, known := layout.Fields[field]; !known {
			return compose.Layout{}, fmt.Errorf("layout.fields: unknown field %q", name)
		}
		if p == nil {
			delete(layout.Fields, field)
			continue
		}
		if err := validate.Struct(p); err != nil {
			return compose.Layout{}, fmt.Errorf("layout.fields.%s: %w", name, formatValidationError(err))
		}
		layout.Fields[field] = p.placement()
	}

	for _, s := range c.Layout.Static {
		layout.Static = append(layout.Static, compose.StaticText{Text: s.Text, Placement: s.placement()})
	}
	if t := c.Layout.Token; t != nil {
		layout.Token = compose.TokenPlacement{X: t.X, Y: t.Y, Size: t.Size}
	}
	if c.Layout.OutputWidth != nil {
		layout.OutputWidth = *c.Layout.OutputWidth
	}
	return layout, nil
}

func (p PlacementConfig) placement() compose.Placement {
	color := p.Color
	if color == "" {
		color = "black"
	}
	return compose.Placement{X: p.X, Y: p.Y, Size: p.Size, Color: color, Prefix: p.Prefix}
}

// QualitySettings returns the converter quality settings.
func (c *Config) QualitySettings() convert.Quality {
	q := convert.Quality{
		Density:     c.Quality.Density,
		Quality:     c.Quality.Quality,
		MinQuality:  c.Quality.MinQuality,
		QualityStep: c.Quality.QualityStep,
		MaxBytes:    c.Quality.MaxBytes,
	}
	if q.MaxBytes < 0 {
		q.MaxBytes = 0
	}
	return q
}

// RetryPolicy returns the task retry policy.
func (c *Config) RetryPolicy() task.RetryPolicy {
	return task.RetryPolicy{
		MaxRetries:  *c.Retry.MaxRetries,
		BackoffBase: c.Retry.BackoffBase.Std(),
		BackoffMax:  c.Retry.BackoffMax.Std(),
	}
}

// Validator returns the record validator.
func (c *Config) Validator() certificate.Validator {
	return certificate.Validator{AutoGenerateIDs: c.AutoGenerateIDs}
}

// Async reports whether tasks go through the queue.
func (c *Config) Async() bool {
	return c.Execution.Mode == ModeAsync
}

// WaitForResult reports whether async callers block for results.
func (c *Config) WaitForResult() bool {
	return c.Execution.WaitForResult == nil || *c.Execution.WaitForResult
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Errorf("%s: failed '%s=%s' check (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s: failed '%s' check", fe.Namespace(), fe.Tag())
}
