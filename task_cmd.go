package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/disconnec/FeiSync/internal/cronsched"
	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage scheduled sync tasks",
	}

	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskRunCmd())
	cmd.AddCommand(newTaskPauseCmd())
	cmd.AddCommand(newTaskVerifyCmd())
	cmd.AddCommand(newTaskRemoveCmd())

	return cmd
}

var (
	flagTaskTenantID   string
	flagTaskLocalPath  string
	flagTaskRemoteRoot string
	flagTaskSchedule   string
	flagTaskDirection  string
	flagTaskDetection  string
)

func newTaskAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a new sync task",
		RunE:  runTaskAdd,
	}

	cmd.Flags().StringVar(&flagTaskTenantID, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&flagTaskLocalPath, "local-path", "", "local directory to sync")
	cmd.Flags().StringVar(&flagTaskRemoteRoot, "remote-folder", "root", "remote folder token")
	cmd.Flags().StringVar(&flagTaskSchedule, "schedule", "", "cron schedule expression")
	cmd.Flags().StringVar(&flagTaskDirection, "direction", string(store.DirectionBidirectional), "sync direction")
	cmd.Flags().StringVar(&flagTaskDetection, "detection", string(store.DetectionSizeMtime), "change detection mode")

	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("local-path")
	_ = cmd.MarkFlagRequired("schedule")

	return cmd
}

func runTaskAdd(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if _, err := cronsched.Parse(flagTaskSchedule); err != nil {
		return ferr.New(ferr.ErrInvalidCron, "invalid schedule: "+err.Error())
	}

	task := store.SyncTask{
		ID:                uuid.NewString(),
		TenantID:          flagTaskTenantID,
		LocalPath:         flagTaskLocalPath,
		RemoteFolderToken: flagTaskRemoteRoot,
		Schedule:          flagTaskSchedule,
		Direction:         store.Direction(flagTaskDirection),
		Detection:         store.DetectionMode(flagTaskDetection),
		Enabled:           true,
	}

	if err := cc.Store.Tasks().Write(func(doc *store.TasksDoc) error {
		doc.Tasks = append(doc.Tasks, task)
		return nil
	}); err != nil {
		return fmt.Errorf("adding task: %w", err)
	}

	if flagJSON {
		return printJSON(task)
	}

	fmt.Printf("task added: %s\n", task.ID)

	return nil
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE:  runTaskList,
	}
}

func runTaskList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	var tasks []store.SyncTask
	if err := cc.Store.Tasks().Read(func(doc *store.TasksDoc) { tasks = append(tasks, doc.Tasks...) }); err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	if flagJSON {
		return printJSON(tasks)
	}

	headers := []string{"ID", "TENANT", "LOCAL PATH", "SCHEDULE", "ENABLED", "LAST STATUS"}
	rows := make([][]string, 0, len(tasks))

	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID, t.TenantID, t.LocalPath, t.Schedule,
			fmt.Sprintf("%t", t.Enabled), string(t.LastStatus),
		})
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func newTaskRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a task immediately, synchronously",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskRun,
	}
}

func runTaskRun(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	e, err := buildEngine(cc)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	status, message, err := e.Runner.RunTask(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("running task: %w", err)
	}

	fmt.Printf("task %s: %s\n", args[0], status)

	if message != "" {
		fmt.Println(message)
	}

	return nil
}

func newTaskPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task-id>",
		Short: "Disable a task so the scheduler stops dispatching it",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskPause,
	}
}

func newTaskVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <task-id>",
		Short: "Report drift between a task's local tree, remote folder, and stored snapshot, without syncing",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskVerify,
	}
}

func runTaskVerify(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	e, err := buildEngine(cc)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	report, err := e.Runner.Verify(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("verifying task: %w", err)
	}

	if flagJSON {
		return printJSON(report)
	}

	if len(report.Drifted) == 0 {
		fmt.Println("no drift detected")
		return nil
	}

	headers := []string{"PATH", "ACTION"}
	rows := make([][]string, 0, len(report.Drifted))

	for _, a := range report.Drifted {
		rows = append(rows, []string{a.RelPath, string(a.Kind)})
	}

	printTable(os.Stdout, headers, rows)

	os.Exit(1)

	return nil
}

func newTaskRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <task-id>",
		Short: "Remove a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskRemove,
	}
}

func runTaskRemove(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	err := cc.Store.Tasks().Write(func(doc *store.TasksDoc) error {
		for i, t := range doc.Tasks {
			if t.ID == args[0] {
				doc.Tasks = append(doc.Tasks[:i], doc.Tasks[i+1:]...)
				return nil
			}
		}

		return ferr.New(ferr.ErrNotFound, "task not found: "+args[0])
	})
	if err != nil {
		return fmt.Errorf("removing task: %w", err)
	}

	fmt.Printf("task removed: %s\n", args[0])

	return nil
}

func runTaskPause(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	found := false

	err := cc.Store.Tasks().Write(func(doc *store.TasksDoc) error {
		for i := range doc.Tasks {
			if doc.Tasks[i].ID == args[0] {
				doc.Tasks[i].Enabled = false
				found = true

				return nil
			}
		}

		return ferr.New(ferr.ErrNotFound, "task not found: "+args[0])
	})
	if err != nil {
		return fmt.Errorf("pausing task: %w", err)
	}

	if found {
		fmt.Printf("task paused: %s\n", args[0])
	}

	return nil
}
