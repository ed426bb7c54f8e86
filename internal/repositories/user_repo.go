package repositories

import (
	"errors"
	"fmt"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"gorm.io/gorm"
)

// UserRepository 只读访问身份系统同步过来的用户和部门
type UserRepository interface {
	Create(user *models.User) error
	FindByID(id uint64) (*models.User, error)
	// ActiveDepartmentMembers 部门内账号启用且在职的用户，排除 excludeUserID
	ActiveDepartmentMembers(departmentID, excludeUserID uint64) ([]uint64, error)
	CreateDepartment(dept *models.Department) error
	// LockScope 锁住归属对应的用户行或部门行，必须在事务中调用
	LockScope(scope models.Scope) error
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *userRepository) FindByID(id uint64) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user %d: %w", id, err)
	}
	return &user, nil
}

func (r *userRepository) ActiveDepartmentMembers(departmentID, excludeUserID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.Model(&models.User{}).
		Where("department_id = ? AND is_active = ? AND employment_status = ?", departmentID, true, models.EmploymentActive).
		Where("id <> ?", excludeUserID).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list department members: %w", err)
	}
	return ids, nil
}

func (r *userRepository) CreateDepartment(dept *models.Department) error {
	return r.db.Create(dept).Error
}

// LockScope 根目录层没有父行可锁，同一空间下的根级结构变更靠这一行串行化。行不存在时什么也不锁
func (r *userRepository) LockScope(scope models.Scope) error {
	db := lockForUpdate(r.db)
	var ids []uint64
	var err error
	if id, ok := scope.UserID(); ok {
		err = db.Model(&models.User{}).Where("id = ?", id).Limit(1).Pluck("id", &ids).Error
	} else if id, ok := scope.DepartmentID(); ok {
		err = db.Model(&models.Department{}).Where("id = ?", id).Limit(1).Pluck("id", &ids).Error
	} else {
		return models.ErrInvalidScope
	}
	if err != nil {
		return fmt.Errorf("lock scope %s: %w", scope, err)
	}
	return nil
}
