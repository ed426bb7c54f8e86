package models

import (
	"time"

	"gorm.io/gorm"
)

// Folder 对应 folders 表
type Folder struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ParentID     *uint64    `gorm:"index;default:null" json:"parent_id"` // null 表示根目录
	Name         string     `gorm:"type:varchar(255);not null" json:"name"`
	OwnerUserID  *uint64    `gorm:"index;default:null" json:"owner_user_id"`
	DepartmentID *uint64    `gorm:"index;default:null" json:"department_id"`
	Visibility   Visibility `gorm:"type:varchar(16);not null;default:'private'" json:"visibility"`
	Path         string     `gorm:"type:varchar(2048);not null;default:''" json:"path"` // 祖先名称用 / 连接
	CreatedBy    uint64     `gorm:"not null" json:"created_by"`
	IsDeleted    bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt    *time.Time `gorm:"default:null" json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定 GORM 使用的表名
func (Folder) TableName() string {
	return "folders"
}

// Scope 返回文件夹归属
func (f *Folder) Scope() Scope {
	s, _ := scopeFromColumns(f.OwnerUserID, f.DepartmentID)
	return s
}

func (f *Folder) SetScope(s Scope) {
	f.OwnerUserID, f.DepartmentID = s.columns()
}

func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	_, err := scopeFromColumns(f.OwnerUserID, f.DepartmentID)
	return err
}

// ChildPath 子文件夹的物化路径
func (f *Folder) ChildPath(name string) string {
	return JoinPath(f.Path, name)
}

// JoinPath 根目录下路径即名称本身
func JoinPath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + "/" + name
}
