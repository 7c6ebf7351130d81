package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconnec/FeiSync/internal/store"
)

func resetTaskFlags() {
	flagTaskTenantID = ""
	flagTaskLocalPath = ""
	flagTaskRemoteRoot = "root"
	flagTaskSchedule = ""
	flagTaskDirection = string(store.DirectionBidirectional)
	flagTaskDetection = string(store.DetectionSizeMtime)
	flagJSON = false
}

func TestRunTaskAdd_RejectsInvalidCron(t *testing.T) {
	ctx := newTestCLIContext(t)

	resetTaskFlags()
	t.Cleanup(resetTaskFlags)

	flagTaskTenantID = "tenant-1"
	flagTaskLocalPath = t.TempDir()
	flagTaskSchedule = "not a cron expression"

	cmd := newTaskAddCmd()
	cmd.SetContext(ctx)

	assert.Error(t, runTaskAdd(cmd, nil))
}

func TestRunTaskAdd_PersistsTask(t *testing.T) {
	ctx := newTestCLIContext(t)
	cc := cliContextFrom(ctx)

	resetTaskFlags()
	t.Cleanup(resetTaskFlags)

	flagTaskTenantID = "tenant-1"
	flagTaskLocalPath = t.TempDir()
	flagTaskSchedule = "*/5 * * * *"

	cmd := newTaskAddCmd()
	cmd.SetContext(ctx)

	require.NoError(t, runTaskAdd(cmd, nil))

	var tasks []store.SyncTask
	require.NoError(t, cc.Store.Tasks().Read(func(doc *store.TasksDoc) { tasks = append(tasks, doc.Tasks...) }))
	require.Len(t, tasks, 1)
	assert.Equal(t, "tenant-1", tasks[0].TenantID)
	assert.True(t, tasks[0].Enabled)
}

func TestRunTaskList_Empty(t *testing.T) {
	ctx := newTestCLIContext(t)

	cmd := newTaskListCmd()
	cmd.SetContext(ctx)

	assert.NoError(t, runTaskList(cmd, nil))
}

func TestRunTaskPause_DisablesTask(t *testing.T) {
	ctx := newTestCLIContext(t)
	cc := cliContextFrom(ctx)

	require.NoError(t, cc.Store.Tasks().Write(func(doc *store.TasksDoc) error {
		doc.Tasks = append(doc.Tasks, store.SyncTask{ID: "task-1", Enabled: true})
		return nil
	}))

	cmd := newTaskPauseCmd()
	cmd.SetContext(ctx)

	require.NoError(t, runTaskPause(cmd, []string{"task-1"}))

	var tasks []store.SyncTask
	require.NoError(t, cc.Store.Tasks().Read(func(doc *store.TasksDoc) { tasks = append(tasks, doc.Tasks...) }))
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].Enabled)
}

func TestRunTaskPause_UnknownIDFails(t *testing.T) {
	ctx := newTestCLIContext(t)

	cmd := newTaskPauseCmd()
	cmd.SetContext(ctx)

	assert.Error(t, runTaskPause(cmd, []string{"does-not-exist"}))
}

func TestRunTaskRun_UnknownTaskFails(t *testing.T) {
	ctx := newTestCLIContext(t)

	cmd := newTaskRunCmd()
	cmd.SetContext(ctx)

	assert.Error(t, runTaskRun(cmd, []string{"does-not-exist"}))
}

func TestRunTaskVerify_UnknownTaskFails(t *testing.T) {
	ctx := newTestCLIContext(t)

	cmd := newTaskVerifyCmd()
	cmd.SetContext(ctx)

	assert.Error(t, runTaskVerify(cmd, []string{"does-not-exist"}))
}

func TestRunTaskRemove_DeletesTask(t *testing.T) {
	ctx := newTestCLIContext(t)
	cc := cliContextFrom(ctx)

	require.NoError(t, cc.Store.Tasks().Write(func(doc *store.TasksDoc) error {
		doc.Tasks = append(doc.Tasks, store.SyncTask{ID: "task-1", Enabled: true})
		return nil
	}))

	cmd := newTaskRemoveCmd()
	cmd.SetContext(ctx)

	require.NoError(t, runTaskRemove(cmd, []string{"task-1"}))

	var tasks []store.SyncTask
	require.NoError(t, cc.Store.Tasks().Read(func(doc *store.TasksDoc) { tasks = append(tasks, doc.Tasks...) }))
	assert.Empty(t, tasks)
}

func TestRunTaskRemove_UnknownIDFails(t *testing.T) {
	ctx := newTestCLIContext(t)

	cmd := newTaskRemoveCmd()
	cmd.SetContext(ctx)

	assert.Error(t, runTaskRemove(cmd, []string{"does-not-exist"}))
}
