package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeResourceNotFound = 1003
	CodeRateLimited      = 1004
	CodeNotReady         = 1005
	CodeServerError      = 5000
	CodeUnavailable      = 5003
)

// 错误码对应的默认消息
var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeResourceNotFound: "资源不存在",
	CodeRateLimited:      "请求过于频繁",
	CodeNotReady:         "分析尚未完成",
	CodeServerError:      "服务器内部错误",
	CodeUnavailable:      "服务暂不可用",
}

// 错误码对应的 HTTP 状态
var codeStatus = map[int]int{
	CodeSuccess:          http.StatusOK,
	CodeParamError:       http.StatusBadRequest,
	CodeResourceNotFound: http.StatusNotFound,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeNotReady:         http.StatusConflict,
	CodeServerError:      http.StatusInternalServerError,
	CodeUnavailable:      http.StatusServiceUnavailable,
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据结构
type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Accepted 任务已受理
func Accepted(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data: PageData{
			Total:    total,
			Page:     page,
			PageSize: pageSize,
			Items:    items,
		},
	})
}

// Error 错误响应，HTTP 状态由错误码决定
func Error(c *gin.Context, code int, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeResourceNotFound, message)
}

// RateLimitError 请求过于频繁
func RateLimitError(c *gin.Context, message string) {
	Error(c, CodeRateLimited, message)
}

// NotReadyError 任务尚未完成
func NotReadyError(c *gin.Context, message string) {
	Error(c, CodeNotReady, message)
}

// UnavailableError 依赖服务不可用
func UnavailableError(c *gin.Context, message string) {
	Error(c, CodeUnavailable, message)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}
