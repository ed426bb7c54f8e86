package models

import "time"

// 请求体定义，供 handlers 绑定使用

type CreateFolderBody struct {
	ParentID   *uint64 `json:"parent_id"`
	Name       string  `json:"name" binding:"required"`
	Department bool    `json:"department"`
}

type RenameBody struct {
	Name string `json:"name" binding:"required"`
}

type MoveFolderBody struct {
	DestinationID *uint64 `json:"destination_id"`
}

type MoveFileBody struct {
	FolderID uint64 `json:"folder_id" binding:"required"`
}

// UploadForm 文件上传表单字段，文件本体通过 multipart 的 file 字段传递
type UploadForm struct {
	FolderID      uint64 `form:"folder_id" binding:"required"`
	DuplicateMode string `form:"duplicate_mode"`
}

type ShareBody struct {
	View     bool  `json:"view"`
	Upload   *bool `json:"upload"`
	Download bool  `json:"download"`
	Edit     bool  `json:"edit"`
	Delete   bool  `json:"delete"`
}

type ArchiveBody struct {
	FileIDs   []uint64 `json:"file_ids"`
	FolderIDs []uint64 `json:"folder_ids"`
}

type CreateLinkBody struct {
	FileID       uint64     `json:"file_id" binding:"required"`
	ExpiresAt    *time.Time `json:"expires_at"`
	MaxDownloads *uint32    `json:"max_downloads"`
	Password     *string    `json:"password"`
}
