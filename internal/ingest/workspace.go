package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkspacePrefix 任务工作目录前缀，清理任务据此识别
const WorkspacePrefix = "analysis_"

// Workspace 获取任务的隔离工作目录路径
func Workspace(root, jobID string) string {
	return filepath.Join(root, WorkspacePrefix+jobID)
}

// Cleanup 删除工作目录，拒绝删除根目录之外的路径
func Cleanup(root, dir string) error {
	if dir == "" {
		return nil
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	if absDir == absRoot || !strings.HasPrefix(absDir, absRoot+string(os.PathSeparator)) {
		return fmt.Errorf("refusing to delete directory outside workspace: %s", absDir)
	}

	return os.RemoveAll(absDir)
}
