package models

import (
	"time"
)

const EmploymentActive = "active"

// User 对应 users 表，账号生命周期由身份系统维护，这里只保存部门归属
type User struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Username         string    `gorm:"type:varchar(64);unique;not null" json:"username"`
	DepartmentID     *uint64   `gorm:"index;default:null" json:"department_id"`
	EmploymentStatus string    `gorm:"type:varchar(32);not null;default:'active'" json:"employment_status"`
	IsActive         bool      `gorm:"not null" json:"is_active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定 GORM 使用的表名
func (User) TableName() string {
	return "users"
}

// Department 对应 departments 表
type Department struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(128);unique;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Department) TableName() string {
	return "departments"
}
