package commands

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/certgen/internal/queue"
	"github.com/dyluth/certgen/internal/task"
	"github.com/dyluth/certgen/internal/watch"
)

var (
	resultWait   time.Duration
	resultFollow bool
	resultJSON   bool
)

var resultCmd = &cobra.Command{
	Use:   "result TASK_ID",
	Short: "Show the result of a queued task",
	Long: `Show the status or result of a task submitted with 'certgen generate --async'.

Without --wait the current state is printed immediately. With --wait the
command blocks until the task finishes or the timeout passes; add --follow
to print each status change while waiting.`,
	Args: cobra.ExactArgs(1),
	RunE: runResult,
}

func init() {
	resultCmd.Flags().DurationVar(&resultWait, "wait", 0, "Block up to this long for a terminal result")
	resultCmd.Flags().BoolVar(&resultFollow, "follow", false, "Print status changes while waiting (requires --wait)")
	resultCmd.Flags().BoolVar(&resultJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(resultCmd)
}

func runResult(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Queue.RedisURL == "" {
		return out.Error(
			"results need a broker",
			"queue.redis_url is not set.",
			nil,
			[]string{"Set queue.redis_url in certgen.yml or export CERTGEN_REDIS_URL"},
		)
	}

	client, err := newQueueClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	var res task.Result
	if resultFollow && resultWait > 0 {
		res, err = watch.Follow(ctx, client, taskID, watch.DefaultInterval, resultWait, func(s task.Status) {
			if !s.Terminal() {
				out.Step("%s is %s", taskID, s)
			}
		})
	} else {
		res, err = client.Result(ctx, task.Handle{TaskID: taskID}, resultWait)
	}
	switch {
	case errors.Is(err, task.ErrUnknownTask):
		return out.Error(
			"task not found",
			"No task with this ID exists, or its result has expired.",
			map[string]string{"task_id": taskID},
			[]string{"Results are kept for queue.result_ttl after completion"},
		)
	case errors.Is(err, task.ErrTimeout):
		status, serr := client.Status(ctx, taskID)
		if serr != nil && !queue.IsNotFound(serr) {
			return serr
		}
		res = task.Result{TaskID: taskID, Status: status}
	case err != nil:
		return err
	}

	if resultJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	out.TaskResult(res)
	return nil
}
