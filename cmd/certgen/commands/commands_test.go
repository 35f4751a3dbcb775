package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/certgen/internal/config"
	"github.com/dyluth/certgen/internal/health"
	"github.com/dyluth/certgen/internal/ledger"
	"github.com/dyluth/certgen/internal/printer"
	"github.com/dyluth/certgen/internal/task"
	"github.com/dyluth/certgen/internal/testutil"
	"github.com/dyluth/certgen/pkg/certificate"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	prev := out
	out = printer.New(buf, buf)
	t.Cleanup(func() { out = prev })
	return buf
}

// writeConfig points --config at a fresh certgen.yml under a temp dir.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := testutil.WriteConfig(t, dir, filepath.Join(dir, "template.jpg"), extra)

	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })
	return dir
}

// newCmd returns a bare command with a context, as cobra provides when
// executing from the root.
func newCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "Usage:")
	assert.Contains(t, buf.String(), "generate")
	assert.Contains(t, buf.String(), "worker")
}

func TestReadRecords_JSONLines(t *testing.T) {
	input := `
# batch 1
{"recipient_name":"Ada Lovelace","institution":"Analytical College","topic":"Computing","certificate_id":"CERT-001","issued_at":"2024-01-15T10:30:00Z"}

{"user_name":"Grace Hopper","college":"Navy School","topic":"Compilers","certificate_id":"CERT-002","issued_at":"2024-01-16T09:00:00Z","test_id":7}
`
	records, err := readRecords(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Ada Lovelace", records[0].RecipientName)
	assert.Equal(t, "CERT-001", records[0].CertificateID)
	assert.Equal(t, "Grace Hopper", records[1].RecipientName)
	assert.Equal(t, "Navy School", records[1].Institution)
	require.NotNil(t, records[1].CourseID)
	assert.Equal(t, int64(7), *records[1].CourseID)
}

func TestReadRecords_Array(t *testing.T) {
	input := `  [{"recipient_name":"A","certificate_id":"X1"},{"recipient_name":"B","certificate_id":"X2"}]`
	records, err := readRecords(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "X2", records[1].CertificateID)
}

func TestReadRecords_ReportsBadLine(t *testing.T) {
	input := "{\"recipient_name\":\"A\"}\n{not json}\n"
	_, err := readRecords(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCollectRecords_FromFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Int64Var(&genUserID, "user-id", 0, "")
	cmd.Flags().Int64Var(&genCourseID, "course-id", 0, "")
	require.NoError(t, cmd.Flags().Set("course-id", "42"))

	genName, genInstitution, genTopic, genID, genIssuedAt, genFile = "Ada", "College", "Math", "CERT-1", "", ""
	t.Cleanup(func() {
		genName, genInstitution, genTopic, genID, genIssuedAt, genFile = "", "", "", "", "", ""
		genUserID, genCourseID = 0, 0
	})

	records, err := collectRecords(cmd)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "CERT-1", r.CertificateID)
	assert.Nil(t, r.UserID)
	require.NotNil(t, r.CourseID)
	assert.Equal(t, int64(42), *r.CourseID)

	_, err = time.Parse(time.RFC3339, r.IssuedAt)
	assert.NoError(t, err, "issued_at defaults to now")
}

func TestCollectRecords_NothingGiven(t *testing.T) {
	_, err := collectRecords(&cobra.Command{})
	assert.Error(t, err)
}

// fakeExecutor fails every record whose ID starts with "bad".
type fakeExecutor struct {
	submitted []task.Task
	results   map[string]task.Result
}

func (f *fakeExecutor) Submit(_ context.Context, t task.Task) (task.Handle, error) {
	f.submitted = append(f.submitted, t)
	res := task.Result{TaskID: t.ID, CertificateID: t.Record.CertificateID, Status: task.StatusSucceeded, Attempts: 1,
		OutputPath: "certificates/" + t.Record.CertificateID + ".pdf"}
	if strings.HasPrefix(t.Record.CertificateID, "bad") {
		res = task.Result{TaskID: t.ID, CertificateID: t.Record.CertificateID, Status: task.StatusFailed, Attempts: 1,
			ErrorKind: task.KindValidation, Stage: "validate", Message: "recipient_name: required"}
	}
	if f.results == nil {
		f.results = make(map[string]task.Result)
	}
	f.results[t.ID] = res
	return task.Handle{TaskID: t.ID, CertificateID: t.Record.CertificateID}, nil
}

func (f *fakeExecutor) Result(_ context.Context, h task.Handle, _ time.Duration) (task.Result, error) {
	res, ok := f.results[h.TaskID]
	if !ok {
		return task.Result{}, task.ErrUnknownTask
	}
	return res, nil
}

func TestSubmitAll_ReportsEachOutcome(t *testing.T) {
	buf := captureOutput(t)
	exec := &fakeExecutor{}
	records := []certificate.Record{{CertificateID: "CERT-1"}, {CertificateID: "bad-2"}, {CertificateID: "CERT-3"}}

	err := submitAll(context.Background(), exec, records, false, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3")

	assert.Len(t, exec.submitted, 3)
	output := buf.String()
	assert.Contains(t, output, "CERT-1 → certificates/CERT-1.pdf")
	assert.Contains(t, output, "bad-2 failed")
	assert.Contains(t, output, "2 succeeded, 1 failed")
}

func TestSubmitAll_FireAndForget(t *testing.T) {
	buf := captureOutput(t)
	exec := &fakeExecutor{}

	err := submitAll(context.Background(), exec, []certificate.Record{{CertificateID: "bad-1"}}, true, 0)
	require.NoError(t, err, "queued tasks are not waited on")
	assert.Contains(t, buf.String(), "bad-1 queued as task")
	assert.Contains(t, buf.String(), "1 queued")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "3.0 MiB", formatBytes(3*1024*1024))
}

func TestReportChecks(t *testing.T) {
	cfg := config.Default()
	checks := reportChecks(cfg, health.Report{TemplateExists: true, OutputWritable: true, ScratchWritable: true})

	byName := make(map[string]printer.Check)
	for _, c := range checks {
		byName[c.Name] = c
	}
	assert.True(t, byName["template"].OK)
	assert.True(t, byName["font"].Soft)
	assert.False(t, byName["renderer"].OK)
	assert.Equal(t, "magick, convert", byName["converter"].Detail)
	_, hasRedis := byName["redis"]
	assert.False(t, hasRedis, "redis is listed only when checked")
}

func TestRunSweep_DeletesExpiredOutput(t *testing.T) {
	buf := captureOutput(t)
	dir := writeConfig(t, "")

	outDir := filepath.Join(dir, "certificates")
	require.NoError(t, os.MkdirAll(outDir, 0755))
	old := filepath.Join(outDir, "OLD.pdf")
	fresh := filepath.Join(outDir, "NEW.pdf")
	require.NoError(t, os.WriteFile(old, []byte("%PDF-old"), 0644))
	require.NoError(t, os.WriteFile(fresh, []byte("%PDF-new"), 0644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	sweepMaxAge = "1d"
	t.Cleanup(func() { sweepMaxAge = "" })

	require.NoError(t, runSweep(newCmd(), nil))
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.Contains(t, buf.String(), "Deleted 1 item(s)")
}

func TestRunSweep_RejectsBadMaxAge(t *testing.T) {
	captureOutput(t)
	writeConfig(t, "")

	sweepMaxAge = "soon"
	t.Cleanup(func() { sweepMaxAge = "" })

	err := runSweep(newCmd(), nil)
	require.Error(t, err)
	assert.Equal(t, "invalid --max-age", err.Error())
}

func TestRunVerify(t *testing.T) {
	buf := captureOutput(t)
	dir := writeConfig(t, "")
	dbPath := filepath.Join(dir, "ledger.db")
	require.NoError(t, os.WriteFile(configPath, append(mustRead(t, configPath), []byte("ledger:\n  path: "+dbPath+"\n")...), 0644))

	pdf := filepath.Join(dir, "CERT-9.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 test"), 0644))

	l, err := ledger.Open(dbPath)
	require.NoError(t, err)
	req := &certificate.Request{RecipientName: "Ada", Institution: "College", Topic: "Math", CertificateID: "CERT-9", IssuedAt: time.Now()}
	require.NoError(t, l.Record(context.Background(), req, pdf))
	require.NoError(t, l.Close())

	require.NoError(t, runVerify(newCmd(), []string{"CERT-9"}))
	assert.Contains(t, buf.String(), "CERT-9 is authentic")

	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 tampered"), 0644))
	err = runVerify(newCmd(), []string{"CERT-9"})
	require.Error(t, err)
	assert.Equal(t, "certificate modified", err.Error())

	err = runVerify(newCmd(), []string{"NOPE"})
	require.Error(t, err)
	assert.Equal(t, "certificate not found", err.Error())
}

func TestRunVerify_LedgerDisabled(t *testing.T) {
	captureOutput(t)
	writeConfig(t, "")

	err := runVerify(newCmd(), []string{"CERT-1"})
	require.Error(t, err)
	assert.Equal(t, "ledger disabled", err.Error())
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
