package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/certgen/internal/task"
	"github.com/dyluth/certgen/pkg/certificate"
)

var (
	genName        string
	genInstitution string
	genTopic       string
	genID          string
	genIssuedAt    string
	genUserID      int64
	genCourseID    int64
	genFile        string
	genAsync       bool
	genSync        bool
	genNoWait      bool
	genTimeout     time.Duration
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate certificates",
	Long: `Generate one certificate from flags or many from a JSON Lines file.

Each line of --file is one record:

  {"recipient_name":"Ada Lovelace","institution":"Analytical College",
   "topic":"Computing","certificate_id":"CERT-001","issued_at":"2024-01-15T10:30:00Z"}

Use --file - to read records from stdin. In async mode records are queued
for 'certgen worker'; by default the command waits for each result.

Examples:
  certgen generate --name "Ada Lovelace" --institution "Analytical College" \
      --topic Computing --id CERT-001 --issued-at 2024-01-15T10:30:00Z
  certgen generate --file records.jsonl --async --no-wait`,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genName, "name", "", "Recipient name")
	f.StringVar(&genInstitution, "institution", "", "Institution")
	f.StringVar(&genTopic, "topic", "", "Topic")
	f.StringVar(&genID, "id", "", "Certificate ID")
	f.StringVar(&genIssuedAt, "issued-at", "", "Issue timestamp (ISO-8601, default now)")
	f.Int64Var(&genUserID, "user-id", 0, "Optional user ID")
	f.Int64Var(&genCourseID, "course-id", 0, "Optional course ID")
	f.StringVarP(&genFile, "file", "f", "", "JSON Lines file of records ('-' for stdin)")
	f.BoolVar(&genAsync, "async", false, "Queue tasks instead of running inline")
	f.BoolVar(&genSync, "sync", false, "Run inline regardless of execution.mode")
	f.BoolVar(&genNoWait, "no-wait", false, "Return task IDs without waiting (async only)")
	f.DurationVar(&genTimeout, "timeout", 0, "How long to wait for each async result (default execution.wait_timeout)")
	generateCmd.MarkFlagsMutuallyExclusive("async", "sync")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	records, err := collectRecords(cmd)
	if err != nil {
		return out.Error(
			"no records to generate",
			err.Error(),
			nil,
			[]string{
				"Pass --name, --institution, --topic and --id for a single certificate",
				"Or pass --file with one JSON record per line",
			},
		)
	}

	async := cfg.Async()
	if genAsync {
		async = true
	}
	if genSync {
		async = false
	}
	wait := cfg.WaitForResult() && !genNoWait
	timeout := cfg.Execution.WaitTimeout.Std()
	if genTimeout > 0 {
		timeout = genTimeout
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var exec task.Executor
	if async {
		if cfg.Queue.RedisURL == "" {
			return out.Error(
				"async mode needs a broker",
				"queue.redis_url is not set.",
				nil,
				[]string{"Set queue.redis_url in certgen.yml or export CERTGEN_REDIS_URL", "Or run with --sync"},
			)
		}
		client, err := newQueueClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Ping(ctx); err != nil {
			return out.Error(
				"broker unreachable",
				err.Error(),
				map[string]string{"redis_url": cfg.Queue.RedisURL},
				[]string{"Check that Redis is running", "Or run with --sync"},
			)
		}
		exec = client
	} else {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		exec = task.NewInline(a.runner)
	}

	return submitAll(ctx, exec, records, async && !wait, timeout)
}

// submitAll runs every record through exec and prints each outcome. When
// fireAndForget is set only the handles are printed. It returns an error
// when any record failed.
func submitAll(ctx context.Context, exec task.Executor, records []certificate.Record, fireAndForget bool, timeout time.Duration) error {
	start := time.Now()
	handles := make([]task.Handle, 0, len(records))
	var succeeded, failed, queued int

	for _, r := range records {
		if ctx.Err() != nil {
			break
		}
		h, err := exec.Submit(ctx, task.New(r))
		if err != nil {
			failed++
			out.Warning("%s could not be submitted: %v", r.CertificateID, err)
			continue
		}
		if fireAndForget {
			queued++
			out.Queued(h)
			continue
		}
		handles = append(handles, h)
	}

	for _, h := range handles {
		res, err := exec.Result(ctx, h, timeout)
		if err != nil {
			failed++
			out.Warning("%s (task %s): %v", h.CertificateID, h.TaskID, err)
			continue
		}
		out.TaskResult(res)
		if res.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}

	out.Summary(succeeded, failed, queued, time.Since(start))
	if failed > 0 {
		return fmt.Errorf("%d of %d certificates failed", failed, len(records))
	}
	return ctx.Err()
}

// collectRecords returns the flag record (if any) followed by the records
// read from --file.
func collectRecords(cmd *cobra.Command) ([]certificate.Record, error) {
	var records []certificate.Record

	if genName != "" || genInstitution != "" || genTopic != "" || genID != "" {
		r := certificate.Record{
			RecipientName: genName,
			Institution:   genInstitution,
			Topic:         genTopic,
			CertificateID: genID,
			IssuedAt:      genIssuedAt,
		}
		if r.IssuedAt == "" {
			r.IssuedAt = time.Now().UTC().Format(time.RFC3339)
		}
		if cmd.Flags().Changed("user-id") {
			id := genUserID
			r.UserID = &id
		}
		if cmd.Flags().Changed("course-id") {
			id := genCourseID
			r.CourseID = &id
		}
		records = append(records, r)
	}

	if genFile != "" {
		var src io.Reader = cmd.InOrStdin()
		if genFile != "-" {
			f, err := os.Open(genFile)
			if err != nil {
				return nil, fmt.Errorf("failed to open records file: %w", err)
			}
			defer f.Close()
			src = f
		}
		fromFile, err := readRecords(src)
		if err != nil {
			return nil, err
		}
		records = append(records, fromFile...)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no records given")
	}
	return records, nil
}

// readRecords parses JSON Lines. A document starting with '[' is read as a
// single JSON array instead. Blank lines and lines starting with '#' are
// skipped.
func readRecords(r io.Reader) ([]certificate.Record, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(512)
	if trimmed := bytes.TrimLeft(head, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		var records []certificate.Record
		if err := json.NewDecoder(br).Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to parse records array: %w", err)
		}
		return records, nil
	}

	var records []certificate.Record
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec certificate.Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}
