package model

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus 任务状态
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusCloning    JobStatus = "cloning"
	StatusExtracting JobStatus = "extracting"
	StatusEnriching  JobStatus = "enriching"
	StatusAssembling JobStatus = "assembling"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// 任务来源
const (
	SourceGithub = "github"
	SourceUpload = "upload"
)

// CancelledMessage 被取消任务的错误信息
const CancelledMessage = "analysis cancelled"

var (
	ErrJobTerminal       = errors.New("job already finished")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// 状态在流水线中的顺序，failed 不在其中
var stageOrder = map[JobStatus]int{
	StatusPending:    0,
	StatusCloning:    1,
	StatusExtracting: 2,
	StatusEnriching:  3,
	StatusAssembling: 4,
	StatusCompleted:  5,
}

// 每个阶段对应的进度区间 [起, 止]
var stageRanges = map[JobStatus][2]int{
	StatusPending:    {0, 0},
	StatusCloning:    {0, 10},
	StatusExtracting: {10, 40},
	StatusEnriching:  {40, 85},
	StatusAssembling: {85, 99},
	StatusCompleted:  {100, 100},
}

// StageRange 返回阶段的进度区间
func StageRange(status JobStatus) (int, int) {
	r := stageRanges[status]
	return r[0], r[1]
}

// IsTerminal 是否为终态
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AnalysisJob 一次分析任务，同时用作注册表记录与历史表行
type AnalysisJob struct {
	ID              string      `gorm:"primaryKey;size:36" json:"analysis_id"`
	Target          string      `gorm:"size:500;not null" json:"target"`
	SourceType      string      `gorm:"size:20;default:github" json:"source_type"`
	Status          JobStatus   `gorm:"size:20;index" json:"status"`
	Progress        int         `json:"progress"`
	Message         string      `gorm:"size:200" json:"message,omitempty"`
	ErrorMessage    string      `gorm:"type:text" json:"error,omitempty"`
	ResultDir       string      `gorm:"size:500" json:"result_dir,omitempty"`
	FileCount       int         `json:"file_count"`
	EndpointCount   int         `json:"endpoint_count"`
	FunctionCount   int         `json:"function_count"`
	EnrichedCount   int         `json:"enriched_count"`
	Languages       StringArray `gorm:"type:json" json:"languages,omitempty"`
	CancelRequested bool        `gorm:"-" json:"cancel_requested,omitempty"`
	CreatedAt       time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	ElapsedSeconds  int         `json:"elapsed_seconds,omitempty"`
}

func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}

// NewAnalysisJob 创建处于 pending 状态的任务
func NewAnalysisJob(id, target, sourceType string, now time.Time) *AnalysisJob {
	return &AnalysisJob{
		ID:         id,
		Target:     target,
		SourceType: sourceType,
		Status:     StatusPending,
		Message:    "queued",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Advance 进入下一个阶段，只允许沿流水线前进一步
func (j *AnalysisJob) Advance(next JobStatus, message string, now time.Time) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	cur, ok := stageOrder[j.Status]
	want, ok2 := stageOrder[next]
	if !ok || !ok2 || next == StatusCompleted || want != cur+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}

	if j.Status == StatusPending {
		j.StartedAt = &now
	}
	j.Status = next
	j.Message = message
	lo, _ := StageRange(next)
	j.raiseProgress(lo)
	j.UpdatedAt = now
	return nil
}

// SetProgress 更新进度，只增不减，完成前不超过 99
func (j *AnalysisJob) SetProgress(p int, message string, now time.Time) {
	if j.Status.IsTerminal() {
		return
	}
	if _, hi := StageRange(j.Status); p > hi {
		p = hi
	}
	j.raiseProgress(p)
	if message != "" {
		j.Message = message
	}
	j.UpdatedAt = now
}

// StageProgress 将阶段内 done/total 映射到阶段区间
func (j *AnalysisJob) StageProgress(done, total int) int {
	lo, hi := StageRange(j.Status)
	if total <= 0 {
		return hi
	}
	if done > total {
		done = total
	}
	return lo + (hi-lo)*done/total
}

func (j *AnalysisJob) raiseProgress(p int) {
	if p > 99 {
		p = 99
	}
	if p > j.Progress {
		j.Progress = p
	}
}

// Complete 标记任务完成
func (j *AnalysisJob) Complete(resultDir string, now time.Time) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	if j.Status != StatusAssembling {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusCompleted)
	}
	j.Status = StatusCompleted
	j.Progress = 100
	j.Message = "analysis completed"
	j.ResultDir = resultDir
	j.finish(now)
	return nil
}

// Fail 标记任务失败，进度保持不变
func (j *AnalysisJob) Fail(reason string, now time.Time) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	j.Status = StatusFailed
	j.ErrorMessage = reason
	j.Message = "analysis failed"
	j.finish(now)
	return nil
}

func (j *AnalysisJob) finish(now time.Time) {
	j.CompletedAt = &now
	j.UpdatedAt = now
	if j.StartedAt != nil {
		j.ElapsedSeconds = int(now.Sub(*j.StartedAt).Seconds())
	}
}

// Clone 返回副本，避免调用方修改注册表内部状态
func (j *AnalysisJob) Clone() *AnalysisJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Languages != nil {
		cp.Languages = append(StringArray(nil), j.Languages...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
