package oss

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/doc_gen_server/config"
)

type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
	prefix     string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "docs"
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
		prefix:     prefix,
	}, nil
}

// ObjectKey 文档在桶中的路径：<prefix>/<jobID>/<name>
func (c *Client) ObjectKey(jobID, name string) string {
	return path.Join(c.prefix, jobID, name)
}

// UploadDocument 上传一份生成的文档
func (c *Client) UploadDocument(jobID, name string, data []byte) (string, error) {
	objectKey := c.ObjectKey(jobID, name)

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType(getContentType(path.Ext(name))))
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// DeleteJob 删除任务下的全部对象
func (c *Client) DeleteJob(jobID string) error {
	prefix := c.ObjectKey(jobID, "") + "/"
	marker := ""
	for {
		result, err := c.bucket.ListObjects(oss.Prefix(prefix), oss.Marker(marker))
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		keys := make([]string, 0, len(result.Objects))
		for _, obj := range result.Objects {
			keys = append(keys, obj.Key)
		}
		if len(keys) > 0 {
			if _, err := c.bucket.DeleteObjects(keys, oss.DeleteObjectsQuiet(true)); err != nil {
				return fmt.Errorf("failed to delete objects: %w", err)
			}
		}
		if !result.IsTruncated {
			return nil
		}
		marker = result.NextMarker
	}
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, objectKey)
	}
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, c.client.Config.Endpoint, objectKey)
}

// GetSignedURL 生成带签名的临时访问URL（默认1小时有效）
func (c *Client) GetSignedURL(objectKey string, expireSeconds ...int64) (string, error) {
	expire := int64(3600)
	if len(expireSeconds) > 0 && expireSeconds[0] > 0 {
		expire = expireSeconds[0]
	}

	signedURL, err := c.bucket.SignURL(objectKey, oss.HTTPGet, expire)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return signedURL, nil
}

// getContentType 根据扩展名获取 Content-Type
func getContentType(ext string) string {
	switch ext {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
