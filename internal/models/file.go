package models

import (
	"time"

	"gorm.io/gorm"
)

// File 对应 files 表
type File struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FolderID     uint64     `gorm:"not null;index" json:"folder_id"` // 文件必须位于文件夹中
	OwnerUserID  *uint64    `gorm:"index;default:null" json:"owner_user_id"`
	DepartmentID *uint64    `gorm:"index;default:null" json:"department_id"`
	Name         string     `gorm:"type:varchar(255);not null" json:"name"`
	ContentKey   string     `gorm:"type:varchar(255);not null" json:"-"`
	Disk         string     `gorm:"type:varchar(64);not null" json:"disk"`
	Size         uint64     `gorm:"not null;default:0" json:"size"`
	MimeType     string     `gorm:"type:varchar(128);not null;default:''" json:"mime_type"`
	Digest       *string    `gorm:"type:varchar(64);default:null" json:"digest"`
	Visibility   Visibility `gorm:"type:varchar(16);not null;default:'private'" json:"visibility"`
	UploadedBy   uint64     `gorm:"not null" json:"uploaded_by"`
	IsDeleted    bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt    *time.Time `gorm:"default:null" json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Folder *Folder `gorm:"foreignKey:FolderID" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (File) TableName() string {
	return "files"
}

func (f *File) Scope() Scope {
	s, _ := scopeFromColumns(f.OwnerUserID, f.DepartmentID)
	return s
}

func (f *File) SetScope(s Scope) {
	f.OwnerUserID, f.DepartmentID = s.columns()
}

func (f *File) BeforeCreate(tx *gorm.DB) error {
	_, err := scopeFromColumns(f.OwnerUserID, f.DepartmentID)
	return err
}
