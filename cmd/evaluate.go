/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jcheng510/coingame-sub001/internal/container"
	"github.com/jcheng510/coingame-sub001/internal/domain"
	"github.com/jcheng510/coingame-sub001/internal/integration"
	"github.com/jcheng510/coingame-sub001/internal/snapshot"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/spf13/cobra"
)

// evaluationResult evaluate 命令输出
type evaluationResult struct {
	Cycle    *integration.CycleReport `json:"cycle"`
	Executed []*task.Task             `json:"executed,omitempty"`
	DryRun   []domain.Call            `json:"dry_run_calls,omitempty"`
}

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one rule evaluation cycle",
	Long: `Run one evaluation cycle against the configured snapshot provider and
print the cycle report as JSON.

With --snapshot the cycle reads operational state from a YAML file instead.
With --dry-run domain calls go to an in-memory recorder, and auto-approved
tasks are executed immediately so the resulting calls can be inspected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		snapshotFile, _ := cmd.Flags().GetString("snapshot")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		ruleType, _ := cmd.Flags().GetString("rule-type")

		var opts []container.Option
		if snapshotFile != "" {
			opts = append(opts, container.WithSnapshotProvider(snapshot.NewFileProvider(snapshotFile)))
		}
		var recorder *domain.DryRun
		if dryRun {
			recorder = domain.NewDryRun()
			opts = append(opts, container.WithDomainClient(recorder))
		}

		ctr, err := container.NewContainer(cfg, log, opts...)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		report, err := ctr.Engine().RunCycle(ctx, integration.Trigger{
			Source:   "manual",
			RuleType: types.RuleType(ruleType),
		})
		if err != nil {
			return fmt.Errorf("evaluation failed: %w", err)
		}

		result := &evaluationResult{Cycle: report}
		if dryRun {
			result.Executed = executeApproved(ctx, ctr.Executor(), report.Tasks)
			result.DryRun = recorder.Calls()
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// executeApproved 同步执行本次评估中自动审批的任务
func executeApproved(ctx context.Context, executor integration.TaskExecutor, tasks []*task.Task) []*task.Task {
	var out []*task.Task
	for _, t := range tasks {
		if t.Status != types.TaskStatusApproved {
			continue
		}
		done, err := executor.Execute(ctx, t.ID)
		if err != nil {
			// 已被其他执行者认领
			continue
		}
		out = append(out, done)
	}
	return out
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().String("snapshot", "", "Read operational state from a YAML snapshot file")
	evaluateCmd.Flags().Bool("dry-run", false, "Record domain calls in memory instead of calling the ERP")
	evaluateCmd.Flags().String("rule-type", "", "Only evaluate rules of this type (low_stock, stale_quote, inbound_email)")
}
