package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/doc_gen_server/internal/model"
)

// TestJob 写入一条已结束的历史记录
func TestJob(t *testing.T, db *gorm.DB, id string, opts ...func(*model.AnalysisJob)) *model.AnalysisJob {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	job := model.NewAnalysisJob(id, "https://github.com/test/"+id, model.SourceGithub, now)
	job.Status = model.StatusCompleted
	job.Progress = 100

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

// WithStatus 设置状态
func WithStatus(status model.JobStatus) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.Status = status
	}
}

// WithCreatedAt 设置创建时间
func WithCreatedAt(at time.Time) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.CreatedAt = at
		j.UpdatedAt = at
	}
}

// WriteRepo 在临时目录中生成一个源码仓库
func WriteRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", rel, err)
		}
	}
	return root
}

// ThreeFileRepo 两个路由文件加一个工具文件
func ThreeFileRepo() map[string]string {
	return map[string]string{
		"users.py": `from flask import Flask
app = Flask(__name__)

@app.route("/users")
def list_users():
    return []
`,
		"orders.py": `from flask import Blueprint
bp = Blueprint("orders", __name__)

@bp.route("/orders", methods=["POST"])
def create_order():
    return {}
`,
		"lib/strings.py": `def pad(s, n):
    return s.ljust(n)

def trim(s):
    return s.strip()
`,
	}
}
