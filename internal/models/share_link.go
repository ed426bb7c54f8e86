package models

import (
	"time"
)

// ShareLink 对应 share_links 表，撤销只写 revoked_at，不删除记录
type ShareLink struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID        uint64     `gorm:"not null;index" json:"file_id"`
	Token         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"token"`
	CreatedBy     uint64     `gorm:"not null" json:"created_by"`
	ExpiresAt     *time.Time `gorm:"default:null" json:"expires_at"`
	MaxDownloads  *uint32    `gorm:"default:null" json:"max_downloads"`
	DownloadCount uint32     `gorm:"not null;default:0" json:"download_count"`
	PasswordHash  *string    `gorm:"type:varchar(255);default:null" json:"-"`
	RevokedAt     *time.Time `gorm:"default:null" json:"revoked_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	File *File `gorm:"foreignKey:FileID" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (ShareLink) TableName() string {
	return "share_links"
}

func (l *ShareLink) IsRevoked() bool { return l.RevokedAt != nil }

func (l *ShareLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

func (l *ShareLink) LimitReached() bool {
	return l.MaxDownloads != nil && l.DownloadCount >= *l.MaxDownloads
}

// Accessible 未撤销、未过期且下载次数未达上限
func (l *ShareLink) Accessible(now time.Time) bool {
	return !l.IsRevoked() && !l.IsExpired(now) && !l.LimitReached()
}

func (l *ShareLink) HasPassword() bool {
	return l.PasswordHash != nil && *l.PasswordHash != ""
}
