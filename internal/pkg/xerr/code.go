package xerr

// 定义了统一的业务错误码
const (
	SuccessCode = 20000 // 通用成功码

	// --- 客户端请求错误系列 (400xx) ---
	InvalidParamsCode      = 40000 // 无效的请求参数
	ValidationFailedCode   = 40001 // 参数验证失败
	NameConflictCode       = 40002 // 同级名称冲突
	CycleDetectedCode      = 40003 // 不能移动到自身或子目录下
	ScopeMismatchCode      = 40004 // 归属不一致，不能跨空间移动
	DestinationTrashedCode = 40005 // 目标文件夹在回收站中
	NotInTrashCode         = 40006 // 不在回收站中
	ItemInTrashCode        = 40007 // 已在回收站中
	RestoreConflictCode    = 40008 // 祖先目录名称冲突，无法恢复

	// --- 认证与授权错误系列 (401xx) ---
	UnauthorizedCode = 40100 // 通用未授权
	TokenInvalidCode = 40101 // Token 无效或过期

	// --- 权限错误系列 (403xx) ---
	ForbiddenCode                = 40300 // 通用无权限
	PermissionDeniedCode         = 40301 // 权限不足
	ScopeForbiddenCode           = 40302 // 无权在部门空间创建
	DepartmentMissingCode        = 40303 // 用户不属于任何部门
	LinkPasswordMismatchCode     = 40304 // 分享链接密码不正确
	LinkDownloadLimitReachedCode = 40305 // 分享链接下载次数已用尽

	// --- 资源未找到错误系列 (404xx) ---
	NotFoundCode         = 40400 // 通用资源未找到
	FolderNotFoundCode   = 40401 // 文件夹不存在
	FileNotFoundCode     = 40402 // 文件不存在
	VersionNotFoundCode  = 40403 // 文件版本不存在
	GrantNotFoundCode    = 40404 // 授权记录不存在
	ContentMissingCode   = 40405 // 存储内容丢失
	LinkInaccessibleCode = 40406 // 分享链接不存在、已撤销或已过期
	UserNotFoundCode     = 40407 // 用户不存在

	// --- 服务器内部错误系列 (500xx) ---
	InternalServerErrorCode = 50000 // 服务器内部通用错误
	DatabaseErrorCode       = 50001 // 数据库操作失败
	StorageErrorCode        = 50002 // 存储服务操作失败
	MQErrorCode             = 50003 // 消息队列操作失败
	ArchiveBuildFailureCode = 50004 // 打包失败
	LockTimeoutCode         = 50300 // 行锁等待超时，可重试
)
