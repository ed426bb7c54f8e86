package models

import "time"

// FolderPermission 对应 folder_permissions 表，每个 (folder, user) 最多一行
type FolderPermission struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	FolderID  uint64    `gorm:"not null;uniqueIndex:idx_folder_permissions_folder_user" json:"folder_id"`
	UserID    uint64    `gorm:"not null;uniqueIndex:idx_folder_permissions_folder_user;index" json:"user_id"`
	CanView   bool      `gorm:"not null;default:false" json:"can_view"`
	CanUpload bool      `gorm:"not null;default:false" json:"can_upload"`
	CanEdit   bool      `gorm:"not null;default:false" json:"can_edit"`
	CanDelete bool      `gorm:"not null;default:false" json:"can_delete"`
	GrantedBy uint64    `gorm:"not null" json:"granted_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FolderPermission) TableName() string {
	return "folder_permissions"
}

// FilePermission 对应 file_permissions 表
type FilePermission struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID      uint64    `gorm:"not null;uniqueIndex:idx_file_permissions_file_user" json:"file_id"`
	UserID      uint64    `gorm:"not null;uniqueIndex:idx_file_permissions_file_user;index" json:"user_id"`
	CanView     bool      `gorm:"not null;default:false" json:"can_view"`
	CanDownload bool      `gorm:"not null;default:false" json:"can_download"`
	CanEdit     bool      `gorm:"not null;default:false" json:"can_edit"`
	CanDelete   bool      `gorm:"not null;default:false" json:"can_delete"`
	GrantedBy   uint64    `gorm:"not null" json:"granted_by"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FilePermission) TableName() string {
	return "file_permissions"
}
