package xerr

import "errors"

var (
	// 通用错误
	ErrInternalServer = errors.New("internal server error")

	// 客户端请求错误
	ErrInvalidParams      = errors.New("invalid request parameters")
	ErrValidationFailed   = errors.New("validation failed")
	ErrNameConflict       = errors.New("an item with this name already exists here")
	ErrCycleDetected      = errors.New("cannot move a folder into itself or one of its descendants")
	ErrScopeMismatch      = errors.New("source and destination belong to different owners")
	ErrDestinationTrashed = errors.New("destination folder is in the trash")
	ErrNotInTrash         = errors.New("item is not in the trash")
	ErrItemInTrash        = errors.New("item is already in the trash")
	ErrRestoreConflict    = errors.New("a parent folder cannot be restored because its name is taken")

	// 认证与授权错误
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenInvalid = errors.New("token is invalid or expired")

	// 权限错误
	ErrPermissionDenied         = errors.New("permission denied")
	ErrScopeForbidden           = errors.New("not allowed to create department folders")
	ErrDepartmentMissing        = errors.New("user does not belong to a department")
	ErrNoDepartment             = ErrDepartmentMissing
	ErrLinkPasswordMismatch     = errors.New("share link password is incorrect")
	ErrLinkDownloadLimitReached = errors.New("share link download limit reached")

	// 资源未找到错误
	ErrFolderNotFound   = errors.New("folder not found")
	ErrFileNotFound     = errors.New("file not found")
	ErrVersionNotFound  = errors.New("file version not found")
	ErrGrantNotFound    = errors.New("share grant not found")
	ErrContentMissing   = errors.New("file content is missing from storage")
	ErrLinkInaccessible = errors.New("share link does not exist, was revoked or has expired")
	ErrUserNotFound     = errors.New("user not found")

	// 数据库与外部服务错误
	ErrDatabaseError       = errors.New("database operation failed")
	ErrStorageError        = errors.New("storage operation failed")
	ErrMQError             = errors.New("message queue operation failed")
	ErrArchiveBuildFailure = errors.New("failed to build archive")
	ErrLockTimeout         = errors.New("timed out waiting for a row lock, retry the request")
)
