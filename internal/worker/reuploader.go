package worker

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/doc_gen_server/internal/assemble"
)

const reuploadInterval = 5 * time.Minute

// Reuploader 后台补传未同步到 OSS 的文档
type Reuploader struct {
	uploader  assemble.Uploader
	outputDir string
}

// NewReuploader 创建重传器
func NewReuploader(uploader assemble.Uploader, outputDir string) *Reuploader {
	return &Reuploader{
		uploader:  uploader,
		outputDir: outputDir,
	}
}

// Start 启动后台重传循环
func (r *Reuploader) Start(ctx context.Context) {
	// 启动后先执行一次
	r.Run()

	ticker := time.NewTicker(reuploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reuploader stopped")
			return
		case <-ticker.C:
			r.Run()
		}
	}
}

// Run 扫描输出目录，返回本轮补传成功的任务数
func (r *Reuploader) Run() int {
	entries, err := os.ReadDir(r.outputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Reuploader: failed to read output dir: %v", err)
		}
		return 0
	}

	done := 0
	for _, e := range entries {
		// 跳过写入中的临时目录
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(r.outputDir, e.Name())
		if assemble.IsMirrored(dir) {
			continue
		}
		set, err := assemble.LoadSet(dir)
		if err != nil {
			log.Printf("Reuploader: skipping %s: %v", e.Name(), err)
			continue
		}

		if n := assemble.Mirror(r.uploader, e.Name(), set); n < len(set.Documents) {
			log.Printf("Reuploader: job %s uploaded %d/%d documents", e.Name(), n, len(set.Documents))
			continue
		}
		if err := assemble.MarkMirrored(dir); err != nil {
			log.Printf("Reuploader: failed to mark job %s: %v", e.Name(), err)
			continue
		}
		done++
		log.Printf("Reuploader: successfully re-uploaded job %s to OSS", e.Name())
	}
	return done
}
