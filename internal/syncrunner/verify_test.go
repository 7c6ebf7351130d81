package syncrunner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconnec/FeiSync/internal/store"
)

func TestVerify_NoDriftOnFreshEmptyTask(t *testing.T) {
	t.Parallel()

	runner, st, _ := newTestRunner(t)

	task := store.SyncTask{
		ID: "task-verify-empty", TenantID: "t1", Direction: store.DirectionBidirectional,
		RemoteFolderToken: "root", LocalPath: t.TempDir(), Detection: store.DetectionSizeMtime,
	}
	addTask(t, st, task)

	report, err := runner.Verify(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Drifted)
	assert.Equal(t, task.ID, report.TaskID)
}

func TestVerify_ReportsUploadDriftWithoutSyncing(t *testing.T) {
	t.Parallel()

	runner, st, be := newTestRunner(t)

	localDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "new.txt"), []byte("content"), 0o644))

	task := store.SyncTask{
		ID: "task-verify-upload", TenantID: "t1", Direction: store.DirectionBidirectional,
		RemoteFolderToken: "root", LocalPath: localDir, Detection: store.DetectionSizeMtime,
	}
	addTask(t, st, task)

	report, err := runner.Verify(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, report.Drifted, 1)
	assert.Equal(t, "new.txt", report.Drifted[0].RelPath)
	assert.Equal(t, "upload", string(report.Drifted[0].Kind))

	children, err := be.ListFolder(context.Background(), "root")
	require.NoError(t, err)
	assert.Empty(t, children, "Verify must not actually upload anything")
}

func TestVerify_UnknownTaskFails(t *testing.T) {
	t.Parallel()

	runner, _, _ := newTestRunner(t)

	_, err := runner.Verify(context.Background(), "does-not-exist")
	assert.Error(t, err)
}
