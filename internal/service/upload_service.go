package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/model/dto"
	"github.com/qs3c/doc_gen_server/internal/pkg/queue"
)

var (
	ErrInvalidZip    = errors.New("the ZIP archive is corrupted or cannot be read")
	ErrEmptyArchive  = errors.New("the ZIP archive contains no files")
	ErrFileTooLarge  = errors.New("the uploaded file is too large")
	ErrInvalidFormat = errors.New("only ZIP archives are supported")
)

// UploadService 接收 ZIP 归档并提交分析
type UploadService struct {
	analysis *AnalysisService
	cfg      *config.Config
}

func NewUploadService(analysis *AnalysisService, cfg *config.Config) *UploadService {
	return &UploadService{analysis: analysis, cfg: cfg}
}

// Submit 保存归档并提交任务；归档由 worker 解压，处理完后删除
func (s *UploadService) Submit(ctx context.Context, filename string, size int64, src io.Reader, apiKeys []string) (*dto.SubmitResponse, error) {
	if !s.allowed(filename) {
		return nil, ErrInvalidFormat
	}
	if s.cfg.Upload.MaxSize > 0 && size > s.cfg.Upload.MaxSize {
		return nil, ErrFileTooLarge
	}

	path, err := s.save(src)
	if err != nil {
		return nil, err
	}
	if err := checkZip(path); err != nil {
		os.Remove(path)
		return nil, err
	}

	resp, err := s.analysis.submit(ctx, model.SourceUpload, filepath.Base(filename), &queue.JobMessage{
		SourceType: model.SourceUpload,
		UploadPath: path,
		APIKeys:    apiKeys,
	})
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return resp, nil
}

func (s *UploadService) allowed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	exts := s.cfg.Upload.AllowedExtensions
	if len(exts) == 0 {
		exts = []string{".zip"}
	}
	for _, e := range exts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// save 写入临时目录，超过大小上限时中止
func (s *UploadService) save(src io.Reader) (string, error) {
	dir := s.cfg.Upload.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+".zip")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	limit := s.cfg.Upload.MaxSize
	if limit <= 0 {
		limit = 50 * 1024 * 1024
	}
	n, err := io.Copy(f, io.LimitReader(src, limit+1))
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	if n > limit {
		os.Remove(path)
		return "", ErrFileTooLarge
	}
	return path, nil
}

// checkZip 确认是可读的 ZIP 且至少有一个文件
func checkZip(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return ErrInvalidZip
	}
	defer r.Close()

	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			return nil
		}
	}
	return ErrEmptyArchive
}
