package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func walkToAssembling(t *testing.T, j *AnalysisJob) {
	t.Helper()
	for _, s := range []JobStatus{StatusCloning, StatusExtracting, StatusEnriching, StatusAssembling} {
		require.NoError(t, j.Advance(s, string(s), t0))
	}
}

func TestAnalysisJob_ForwardPath(t *testing.T) {
	j := NewAnalysisJob("a1", "https://github.com/a/b", SourceGithub, t0)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, 0, j.Progress)

	walkToAssembling(t, j)
	assert.Equal(t, 85, j.Progress)
	assert.NotNil(t, j.StartedAt)

	require.NoError(t, j.Complete("/out/a1", t0.Add(3*time.Second)))
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, "/out/a1", j.ResultDir)
	assert.Equal(t, 3, j.ElapsedSeconds)
}

func TestAnalysisJob_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from []JobStatus
		to   JobStatus
	}{
		{"skip stage", nil, StatusExtracting},
		{"backwards", []JobStatus{StatusCloning, StatusExtracting}, StatusCloning},
		{"advance to completed", []JobStatus{StatusCloning, StatusExtracting, StatusEnriching, StatusAssembling}, StatusCompleted},
		{"advance to failed", nil, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewAnalysisJob("a", "x", SourceGithub, t0)
			for _, s := range tt.from {
				require.NoError(t, j.Advance(s, "", t0))
			}
			err := j.Advance(tt.to, "", t0)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestAnalysisJob_CompleteRequiresAssembling(t *testing.T) {
	j := NewAnalysisJob("a", "x", SourceGithub, t0)
	require.NoError(t, j.Advance(StatusCloning, "", t0))
	assert.ErrorIs(t, j.Complete("/out", t0), ErrInvalidTransition)
	assert.NotEqual(t, 100, j.Progress)
}

func TestAnalysisJob_ProgressIsMonotone(t *testing.T) {
	j := NewAnalysisJob("a", "x", SourceGithub, t0)
	require.NoError(t, j.Advance(StatusCloning, "", t0))
	require.NoError(t, j.Advance(StatusExtracting, "", t0))

	j.SetProgress(30, "", t0)
	assert.Equal(t, 30, j.Progress)

	j.SetProgress(20, "", t0)
	assert.Equal(t, 30, j.Progress, "progress must not decrease")

	j.SetProgress(95, "", t0)
	assert.Equal(t, 40, j.Progress, "progress is capped at the stage ceiling")
}

func TestAnalysisJob_NeverReaches100BeforeCompletion(t *testing.T) {
	j := NewAnalysisJob("a", "x", SourceGithub, t0)
	walkToAssembling(t, j)
	j.SetProgress(150, "", t0)
	assert.Equal(t, 99, j.Progress)
}

func TestAnalysisJob_FailFromAnyNonTerminal(t *testing.T) {
	for _, stop := range []JobStatus{StatusPending, StatusCloning, StatusExtracting, StatusEnriching, StatusAssembling} {
		t.Run(string(stop), func(t *testing.T) {
			j := NewAnalysisJob("a", "x", SourceGithub, t0)
			for _, s := range []JobStatus{StatusCloning, StatusExtracting, StatusEnriching, StatusAssembling} {
				if stageOrder[s] > stageOrder[stop] {
					break
				}
				require.NoError(t, j.Advance(s, "", t0))
			}
			before := j.Progress

			require.NoError(t, j.Fail("boom", t0))
			assert.Equal(t, StatusFailed, j.Status)
			assert.Equal(t, "boom", j.ErrorMessage)
			assert.Equal(t, before, j.Progress)

			assert.ErrorIs(t, j.Fail("again", t0), ErrJobTerminal)
			assert.ErrorIs(t, j.Advance(StatusCloning, "", t0), ErrJobTerminal)
		})
	}
}

func TestAnalysisJob_StageProgress(t *testing.T) {
	j := NewAnalysisJob("a", "x", SourceGithub, t0)
	require.NoError(t, j.Advance(StatusCloning, "", t0))
	require.NoError(t, j.Advance(StatusExtracting, "", t0))

	assert.Equal(t, 10, j.StageProgress(0, 10))
	assert.Equal(t, 25, j.StageProgress(5, 10))
	assert.Equal(t, 40, j.StageProgress(10, 10))
	assert.Equal(t, 40, j.StageProgress(0, 0))
}

func TestAnalysisJob_Clone(t *testing.T) {
	j := NewAnalysisJob("a", "x", SourceGithub, t0)
	j.Languages = StringArray{"go"}

	cp := j.Clone()
	cp.Languages[0] = "python"
	cp.Progress = 50

	assert.Equal(t, "go", j.Languages[0])
	assert.Equal(t, 0, j.Progress)
}
