package repositories

import (
	"strings"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockForUpdate 给 SELECT 加 FOR UPDATE，SQLite 方言会忽略该子句。
// 包一层 Session 才能在多次查询间复用，否则条件会累积
func lockForUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).Session(&gorm.Session{})
}

// scopeCondition 归属条件，两列必须同时匹配，避免把部门条目当成私有条目
func scopeCondition(s models.Scope) (string, []any) {
	if id, ok := s.UserID(); ok {
		return "owner_user_id = ? AND department_id IS NULL", []any{id}
	}
	if id, ok := s.DepartmentID(); ok {
		return "department_id = ? AND owner_user_id IS NULL", []any{id}
	}
	return "1 = 0", nil
}

// scopesCondition 多个归属的 OR 组合
func scopesCondition(scopes []models.Scope) (string, []any) {
	if len(scopes) == 0 {
		return "1 = 0", nil
	}
	parts := make([]string, 0, len(scopes))
	var args []any
	for _, s := range scopes {
		cond, a := scopeCondition(s)
		parts = append(parts, "("+cond+")")
		args = append(args, a...)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func parentCondition(db *gorm.DB, parentID *uint64) *gorm.DB {
	if parentID == nil {
		return db.Where("parent_id IS NULL")
	}
	return db.Where("parent_id = ?", *parentID)
}
