package assemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/doc_gen_server/internal/model"
)

var ErrDocumentNotFound = errors.New("document not found")

// Manifest 输出目录中的 manifest.json
type Manifest struct {
	JobID       string             `json:"analysis_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Documents   []model.Document   `json:"documents"`
	Meta        model.DocumentMeta `json:"meta"`
}

// Writer 把文档集写入 <root>/<jobID>/
type Writer struct {
	root string
}

// NewWriter 创建写入器
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// Dir 任务的输出目录
func (w *Writer) Dir(jobID string) string {
	return filepath.Join(w.root, jobID)
}

// Write 先写临时目录再整体改名，读取方不会看到写了一半的结果
func (w *Writer) Write(jobID string, set *model.DocumentSet, now time.Time) (string, error) {
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return "", fmt.Errorf("failed to create output root: %w", err)
	}
	tmp, err := os.MkdirTemp(w.root, "."+jobID+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	for _, doc := range set.Documents {
		if !validName(doc.Name) {
			return "", fmt.Errorf("invalid document name %q", doc.Name)
		}
		target := filepath.Join(tmp, filepath.FromSlash(doc.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return "", fmt.Errorf("failed to create dir for %s: %w", doc.Name, err)
		}
		if err := os.WriteFile(target, []byte(doc.Body), 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", doc.Name, err)
		}
	}

	manifest := Manifest{JobID: jobID, GeneratedAt: now, Documents: set.Documents, Meta: set.Meta}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, ManifestName), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	dir := w.Dir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to replace output dir: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return "", fmt.Errorf("failed to move output into place: %w", err)
	}
	return dir, nil
}

// validName 只允许相对路径，不能跳出输出目录
func validName(name string) bool {
	if name == "" || path.IsAbs(name) {
		return false
	}
	clean := path.Clean(name)
	return clean == name && clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}

// ReadManifest 读取输出目录的 manifest
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// ReadDocument 读取一份文档，只接受 manifest 中列出的名称
func ReadDocument(dir, name string) ([]byte, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	for _, doc := range m.Documents {
		if doc.Name == name {
			data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", name, err)
			}
			return data, nil
		}
	}
	return nil, ErrDocumentNotFound
}

// Uploader 对象存储上传接口
type Uploader interface {
	UploadDocument(jobID, name string, data []byte) (string, error)
}

// Mirror 把已写入的文档同步到对象存储，失败只记录日志
func Mirror(up Uploader, jobID string, set *model.DocumentSet) int {
	if up == nil || set == nil {
		return 0
	}
	uploaded := 0
	for _, doc := range set.Documents {
		if _, err := up.UploadDocument(jobID, doc.Name, []byte(doc.Body)); err != nil {
			log.Printf("Job %s: failed to mirror %s: %v", jobID, doc.Name, err)
			continue
		}
		uploaded++
	}
	return uploaded
}

// MirroredMarker 全部文档同步成功后写入的标记文件
const MirroredMarker = ".mirrored"

// MarkMirrored 标记输出目录已同步
func MarkMirrored(dir string) error {
	return os.WriteFile(filepath.Join(dir, MirroredMarker), nil, 0644)
}

// IsMirrored 输出目录是否已同步
func IsMirrored(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, MirroredMarker))
	return err == nil
}

// LoadSet 从输出目录读回完整文档集（含正文）
func LoadSet(dir string) (*model.DocumentSet, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	set := &model.DocumentSet{Meta: m.Meta}
	for _, doc := range m.Documents {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(doc.Name)))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", doc.Name, err)
		}
		doc.Body = string(data)
		set.Documents = append(set.Documents, doc)
	}
	return set, nil
}
