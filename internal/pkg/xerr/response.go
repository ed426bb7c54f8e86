package xerr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CodeError 结构体用于在服务层传递带有业务码的错误
// 它实现了 error 接口
type CodeError struct {
	Code  int    // 业务错误码
	Field string // 出错的请求字段，可为空
	Err   error  // 被包裹的底层错误
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return e.Err.Error()
}

// Unwrap 返回被包裹的底层错误，支持 errors.Unwrap
func (e *CodeError) Unwrap() error {
	return e.Err
}

// NewCodeError 创建一个 CodeError 实例
func NewCodeError(code int, err error) *CodeError {
	return &CodeError{Code: code, Err: err}
}

// WithField 将错误关联到请求字段
func WithField(field string, err error) *CodeError {
	_, code, _ := Lookup(err)
	return &CodeError{Code: code, Field: field, Err: err}
}

type kind struct {
	err    error
	status int
	code   int
	field  string
}

// 顺序即匹配优先级
var kinds = []kind{
	{ErrValidationFailed, http.StatusBadRequest, ValidationFailedCode, ""},
	{ErrInvalidParams, http.StatusBadRequest, InvalidParamsCode, ""},
	{ErrNameConflict, http.StatusConflict, NameConflictCode, "name"},
	{ErrCycleDetected, http.StatusUnprocessableEntity, CycleDetectedCode, "destination_id"},
	{ErrScopeMismatch, http.StatusUnprocessableEntity, ScopeMismatchCode, "destination_id"},
	{ErrDestinationTrashed, http.StatusUnprocessableEntity, DestinationTrashedCode, "destination_id"},
	{ErrNotInTrash, http.StatusUnprocessableEntity, NotInTrashCode, ""},
	{ErrItemInTrash, http.StatusUnprocessableEntity, ItemInTrashCode, ""},
	{ErrRestoreConflict, http.StatusConflict, RestoreConflictCode, ""},
	{ErrUnauthorized, http.StatusUnauthorized, UnauthorizedCode, ""},
	{ErrTokenInvalid, http.StatusUnauthorized, TokenInvalidCode, ""},
	{ErrPermissionDenied, http.StatusForbidden, PermissionDeniedCode, ""},
	{ErrScopeForbidden, http.StatusForbidden, ScopeForbiddenCode, "department"},
	{ErrDepartmentMissing, http.StatusForbidden, DepartmentMissingCode, "department"},
	{ErrLinkPasswordMismatch, http.StatusForbidden, LinkPasswordMismatchCode, "password"},
	{ErrLinkDownloadLimitReached, http.StatusGone, LinkDownloadLimitReachedCode, ""},
	{ErrFolderNotFound, http.StatusNotFound, FolderNotFoundCode, ""},
	{ErrFileNotFound, http.StatusNotFound, FileNotFoundCode, ""},
	{ErrVersionNotFound, http.StatusNotFound, VersionNotFoundCode, ""},
	{ErrGrantNotFound, http.StatusNotFound, GrantNotFoundCode, ""},
	{ErrContentMissing, http.StatusNotFound, ContentMissingCode, ""},
	{ErrLinkInaccessible, http.StatusNotFound, LinkInaccessibleCode, ""},
	{ErrUserNotFound, http.StatusNotFound, UserNotFoundCode, ""},
	{ErrLockTimeout, http.StatusServiceUnavailable, LockTimeoutCode, ""},
	{ErrArchiveBuildFailure, http.StatusInternalServerError, ArchiveBuildFailureCode, ""},
	{ErrDatabaseError, http.StatusInternalServerError, DatabaseErrorCode, ""},
	{ErrStorageError, http.StatusInternalServerError, StorageErrorCode, ""},
	{ErrMQError, http.StatusInternalServerError, MQErrorCode, ""},
}

// Lookup 将错误映射为 HTTP 状态码、业务码和字段
func Lookup(err error) (status int, code int, field string) {
	var ce *CodeError
	if errors.As(err, &ce) && ce.Field != "" {
		field = ce.Field
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			if field == "" {
				field = k.field
			}
			return k.status, k.code, field
		}
	}
	if ce != nil && ce.Code != 0 {
		return http.StatusInternalServerError, ce.Code, field
	}
	return http.StatusInternalServerError, InternalServerErrorCode, field
}

// Retryable 行锁超时的错误可以由调用方重试
func Retryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// Is 判断错误是否为指定的错误类型
// 如果 err 是 *CodeError，则会解包后与 target 比较
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Response 是通用 JSON 响应结构
type Response struct {
	Code    int    `json:"code"`            // 业务状态码
	Message string `json:"message"`         // 消息
	Field   string `json:"field,omitempty"` // 出错字段
	Data    any    `json:"data"`            // 响应数据
}

// JSONResponse 发送标准 JSON 响应
func JSONResponse(c *gin.Context, httpStatus int, code int, message string, data any) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success 成功响应
func Success(c *gin.Context, httpStatus int, message string, data any) {
	JSONResponse(c, httpStatus, SuccessCode, message, data)
}

// Error 错误响应
func Error(c *gin.Context, httpStatus int, code int, message string) {
	JSONResponse(c, httpStatus, code, message, nil)
}

// Fail 根据错误类型自动选择状态码并响应
func Fail(c *gin.Context, err error) {
	status, code, field := Lookup(err)
	message := err.Error()
	if status == http.StatusInternalServerError && code == InternalServerErrorCode {
		message = ErrInternalServer.Error()
	}
	c.JSON(status, Response{Code: code, Message: message, Field: field})
}

// AbortWithError 终止请求并发送错误响应
func AbortWithError(c *gin.Context, httpStatus int, code int, message string) {
	Error(c, httpStatus, code, message)
	c.Abort() // 终止后续的 HandlerFunc
}
