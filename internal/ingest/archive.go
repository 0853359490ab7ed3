package ingest

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxArchiveEntry 单个解压文件的上限，防止压缩炸弹
const maxArchiveEntry = 50 << 20

// ExtractArchive 解压 ZIP 到目标目录
func ExtractArchive(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return &IngestError{UserMessage: "uploaded file is not a valid zip archive", RawError: err}
	}
	defer r.Close()

	cleanDest := filepath.Clean(destDir)
	if err := os.MkdirAll(cleanDest, 0755); err != nil {
		return err
	}

	for _, f := range r.File {
		destPath := filepath.Join(cleanDest, f.Name)
		// 防止 zip slip
		if !strings.HasPrefix(destPath, cleanDest+string(os.PathSeparator)) {
			return &IngestError{
				UserMessage: "archive contains an invalid path",
				RawError:    fmt.Errorf("invalid file path: %s", f.Name),
			}
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return err
			}
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			continue
		}

		if err := extractEntry(f, destPath); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}

	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer destFile.Close()

	srcFile, err := f.Open()
	if err != nil {
		return err
	}
	defer srcFile.Close()

	_, err = io.Copy(destFile, io.LimitReader(srcFile, maxArchiveEntry))
	return err
}

// FindProjectRoot 压缩包只有一个顶层目录时进入该目录
func FindProjectRoot(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return dir
	}

	var visible []os.DirEntry
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || e.Name() == "__MACOSX" {
			continue
		}
		visible = append(visible, e)
	}
	if len(visible) == 1 && visible[0].IsDir() {
		return FindProjectRoot(filepath.Join(dir, visible[0].Name()))
	}
	return dir
}
