package models

import (
	"time"
)

// FileVersion 对应 file_versions 表，文件被替换前的快照，只追加
type FileVersion struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID     uint64    `gorm:"not null;uniqueIndex:idx_file_versions_file_seq" json:"file_id"`
	Sequence   uint      `gorm:"not null;uniqueIndex:idx_file_versions_file_seq" json:"sequence"`
	ContentKey string    `gorm:"type:varchar(255);not null" json:"-"`
	Disk       string    `gorm:"type:varchar(64);not null" json:"disk"`
	Size       uint64    `gorm:"not null;default:0" json:"size"`
	MimeType   string    `gorm:"type:varchar(128);not null;default:''" json:"mime_type"`
	Digest     *string   `gorm:"type:varchar(64);default:null" json:"digest"`
	CreatedBy  uint64    `gorm:"not null" json:"created_by"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`

	File *File `gorm:"foreignKey:FileID" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (FileVersion) TableName() string {
	return "file_versions"
}
