package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/doc_gen_server/internal/model"
)

// JobRepository 已结束任务的历史记录
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Save 插入或覆盖一条记录
func (r *JobRepository) Save(job *model.AnalysisJob) error {
	return r.db.Save(job).Error
}

func (r *JobRepository) GetByID(id string) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List 分页查询，status 为空时不过滤
func (r *JobRepository) List(page, pageSize int, status string) ([]*model.AnalysisJob, int64, error) {
	var jobs []*model.AnalysisJob
	var total int64

	query := r.db.Model(&model.AnalysisJob{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&jobs).Error

	return jobs, total, err
}

// DeleteBefore 删除早于 t 创建的记录，返回删除条数
func (r *JobRepository) DeleteBefore(t time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", t).Delete(&model.AnalysisJob{})
	return result.RowsAffected, result.Error
}
