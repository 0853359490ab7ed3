package handler

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/assemble"
	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/pkg/queue"
	"github.com/qs3c/doc_gen_server/internal/pkg/response"
	"github.com/qs3c/doc_gen_server/internal/pkg/ws"
	"github.com/qs3c/doc_gen_server/internal/registry"
	"github.com/qs3c/doc_gen_server/internal/repository"
	"github.com/qs3c/doc_gen_server/internal/service"
	"github.com/qs3c/doc_gen_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubQueue struct {
	msgs []*queue.JobMessage
	err  error
}

func (q *stubQueue) Push(ctx context.Context, msg *queue.JobMessage) error {
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

// testContext 本地测试上下文
type testContext struct {
	router   *gin.Engine
	registry registry.Registry
	queue    *stubQueue
	cfg      *config.Config
	hub      *ws.Hub
}

func setupAnalysisHandler(t *testing.T) *testContext {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{}
	cfg.Analysis.OutputDir = t.TempDir()
	cfg.Upload.TempDir = t.TempDir()
	cfg.Upload.MaxSize = 1024 * 1024

	tc := &testContext{registry: registry.NewMemory(), queue: &stubQueue{}, cfg: cfg, hub: ws.NewHub()}
	analysisService := service.NewAnalysisService(tc.registry, repository.NewJobRepository(db), tc.queue, nil, cfg)
	h := NewAnalysisHandler(analysisService)
	up := NewUploadHandler(service.NewUploadService(analysisService, cfg))
	wsh := NewWebSocketHandler(tc.hub, analysisService)

	router := gin.New()
	api := router.Group("/api/analysis")
	api.GET("/ws", wsh.Handle)
	api.POST("/github", h.SubmitGithub)
	api.POST("/upload", up.Submit)
	api.GET("/status/:id", h.Status)
	api.GET("/results/:id", h.Results)
	api.GET("/results/:id/documents/*name", h.Document)
	api.GET("/list", h.List)
	api.GET("/history", h.History)
	api.POST("/:id/cancel", h.Cancel)
	api.DELETE("/cleanup", h.Cleanup)
	tc.router = router
	return tc
}

func (tc *testContext) do(t *testing.T, method, path string, body []byte, contentType string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	tc.router.ServeHTTP(w, req)

	var resp response.Response
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (tc *testContext) submit(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(map[string]interface{}{"github_url": "https://github.com/acme/shop"})
	w, resp := tc.do(t, "POST", "/api/analysis/github", body, "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)
	data := resp.Data.(map[string]interface{})
	return data["analysis_id"].(string)
}

// complete 写出文档并把任务推进到 completed
func (tc *testContext) complete(t *testing.T, id string) {
	t.Helper()
	now := time.Now()
	set := &model.DocumentSet{Documents: []model.Document{
		{Name: assemble.OverviewName, Title: "shop", Kind: model.DocOverview, Body: "# shop\n", Size: 7},
		{Name: assemble.FileDocName("api/users.py"), Title: "api/users.py", Kind: model.DocFile, Body: "# api/users.py\n", Size: 15},
	}}
	dir, err := assemble.NewWriter(tc.cfg.Analysis.OutputDir).Write(id, set, now)
	require.NoError(t, err)

	_, err = tc.registry.Update(context.Background(), id, func(j *model.AnalysisJob) error {
		for _, s := range []model.JobStatus{model.StatusCloning, model.StatusExtracting, model.StatusEnriching, model.StatusAssembling} {
			if err := j.Advance(s, "", now); err != nil {
				return err
			}
		}
		return j.Complete(dir, now)
	})
	require.NoError(t, err)
}

func TestAnalysisHandler_SubmitGithub(t *testing.T) {
	tc := setupAnalysisHandler(t)

	id := tc.submit(t)
	assert.NotEmpty(t, id)
	require.Len(t, tc.queue.msgs, 1)
	assert.Equal(t, id, tc.queue.msgs[0].AnalysisID)
}

func TestAnalysisHandler_SubmitGithub_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		queueErr   error
		wantStatus int
		wantCode   int
	}{
		{"missing url", `{}`, nil, http.StatusBadRequest, response.CodeParamError},
		{"malformed json", `{"github_url":`, nil, http.StatusBadRequest, response.CodeParamError},
		{"not https", `{"github_url":"http://github.com/a/b"}`, nil, http.StatusBadRequest, response.CodeParamError},
		{"queue down", `{"github_url":"https://github.com/a/b"}`, errors.New("down"), http.StatusServiceUnavailable, response.CodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := setupAnalysisHandler(t)
			tc.queue.err = tt.queueErr

			w, resp := tc.do(t, "POST", "/api/analysis/github", []byte(tt.body), "application/json")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestAnalysisHandler_Status(t *testing.T) {
	tc := setupAnalysisHandler(t)
	id := tc.submit(t)

	w, resp := tc.do(t, "GET", "/api/analysis/status/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, id, data["analysis_id"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, float64(0), data["progress"])

	w, resp = tc.do(t, "GET", "/api/analysis/status/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestAnalysisHandler_Results(t *testing.T) {
	tc := setupAnalysisHandler(t)
	id := tc.submit(t)

	// 未完成
	w, resp := tc.do(t, "GET", "/api/analysis/results/"+id, nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.CodeNotReady, resp.Code)

	tc.complete(t, id)
	w, resp = tc.do(t, "GET", "/api/analysis/results/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	docs := data["documents"].([]interface{})
	assert.Len(t, docs, 2)

	w, _ = tc.do(t, "GET", "/api/analysis/results/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalysisHandler_Document(t *testing.T) {
	tc := setupAnalysisHandler(t)
	id := tc.submit(t)
	tc.complete(t, id)

	w, _ := tc.do(t, "GET", "/api/analysis/results/"+id+"/documents/"+assemble.FileDocName("api/users.py"), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# api/users.py\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")

	w, _ = tc.do(t, "GET", "/api/analysis/results/"+id+"/documents/nope.md", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalysisHandler_ListAndHistory(t *testing.T) {
	tc := setupAnalysisHandler(t)
	tc.submit(t)
	tc.submit(t)

	w, resp := tc.do(t, "GET", "/api/analysis/list", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["total"])

	w, resp = tc.do(t, "GET", "/api/analysis/history?page=0&page_size=500", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	page := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), page["page"])
	assert.Equal(t, float64(20), page["page_size"])
}

func TestAnalysisHandler_Cancel(t *testing.T) {
	tc := setupAnalysisHandler(t)
	id := tc.submit(t)

	w, _ := tc.do(t, "POST", "/api/analysis/"+id+"/cancel", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	job, err := tc.registry.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, job.CancelRequested)

	w, _ = tc.do(t, "POST", "/api/analysis/unknown/cancel", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	done := tc.submit(t)
	tc.complete(t, done)
	w, _ = tc.do(t, "POST", "/api/analysis/"+done+"/cancel", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAnalysisHandler_Cleanup(t *testing.T) {
	tc := setupAnalysisHandler(t)

	w, resp := tc.do(t, "DELETE", "/api/analysis/cleanup", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeSuccess, resp.Code)
}

func multipartZip(t *testing.T, filename string, content []byte, keys string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	if keys != "" {
		require.NoError(t, mw.WriteField("api_keys", keys))
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestUploadHandler_Submit(t *testing.T) {
	tc := setupAnalysisHandler(t)

	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	f, err := zw.Create("app.py")
	require.NoError(t, err)
	_, err = f.Write([]byte("def main():\n    pass\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	body, ct := multipartZip(t, "shop.zip", zbuf.Bytes(), " k1, ,k2 ")
	w, resp := tc.do(t, "POST", "/api/analysis/upload", body, ct)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, response.CodeSuccess, resp.Code)

	require.Len(t, tc.queue.msgs, 1)
	assert.Equal(t, []string{"k1", "k2"}, tc.queue.msgs[0].APIKeys)
	assert.Equal(t, model.SourceUpload, tc.queue.msgs[0].SourceType)
}

func TestUploadHandler_Submit_Errors(t *testing.T) {
	tc := setupAnalysisHandler(t)

	// 缺少文件
	w, _ := tc.do(t, "POST", "/api/analysis/upload", nil, "multipart/form-data; boundary=x")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct := multipartZip(t, "shop.rar", []byte("x"), "")
	w, resp := tc.do(t, "POST", "/api/analysis/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.ErrInvalidFormat.Error(), resp.Message)

	body, ct = multipartZip(t, "shop.zip", []byte("garbage"), "")
	w, resp = tc.do(t, "POST", "/api/analysis/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.ErrInvalidZip.Error(), resp.Message)
}

func TestSplitKeys(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{" a , b ,,", []string{"a", "b"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitKeys(tt.raw))
	}
}
