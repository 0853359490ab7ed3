package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/testutil"
)

func TestJobRepository_SaveAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	job := model.NewAnalysisJob("job-1", "https://github.com/pallets/flask", model.SourceGithub, now)
	job.Languages = model.StringArray{"python", "javascript"}
	require.NoError(t, repo.Save(job))

	// 再次 Save 覆盖同一行
	require.NoError(t, job.Fail("repository not found or not accessible", now.Add(time.Second)))
	require.NoError(t, repo.Save(job))

	found, err := repo.GetByID("job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, found.Status)
	assert.Equal(t, "repository not found or not accessible", found.ErrorMessage)
	assert.Equal(t, model.StringArray{"python", "javascript"}, found.Languages)

	_, err = repo.GetByID("missing")
	assert.Error(t, err)
}

func TestJobRepository_List(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	base := time.Now().UTC().Truncate(time.Second)

	testutil.TestJob(t, db, "a", testutil.WithCreatedAt(base.Add(-3*time.Minute)))
	testutil.TestJob(t, db, "b", testutil.WithCreatedAt(base.Add(-2*time.Minute)), testutil.WithStatus(model.StatusFailed))
	testutil.TestJob(t, db, "c", testutil.WithCreatedAt(base.Add(-1*time.Minute)))

	jobs, total, err := repo.List(1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, jobs, 3)
	assert.Equal(t, "c", jobs[0].ID)

	jobs, total, err = repo.List(1, 10, string(model.StatusFailed))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "b", jobs[0].ID)

	jobs, total, err = repo.List(2, 2, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].ID)
}

func TestJobRepository_DeleteBefore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	base := time.Now().UTC().Truncate(time.Second)

	testutil.TestJob(t, db, "old", testutil.WithCreatedAt(base.Add(-48*time.Hour)))
	testutil.TestJob(t, db, "new", testutil.WithCreatedAt(base))

	n, err := repo.DeleteBefore(base.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByID("old")
	assert.Error(t, err)
	_, err = repo.GetByID("new")
	assert.NoError(t, err)
}
