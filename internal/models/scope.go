package models

import (
	"errors"
	"fmt"
)

// ScopeKind 区分私有空间和部门空间
type ScopeKind uint8

const (
	ScopePrivate ScopeKind = iota + 1
	ScopeDepartment
)

var ErrInvalidScope = errors.New("exactly one of owner_user_id and department_id must be set")

// Scope is the owning side of a folder or file: Private(userID) or Department(deptID).
// The zero value is invalid.
type Scope struct {
	kind ScopeKind
	id   uint64
}

func PrivateScope(userID uint64) Scope {
	return Scope{kind: ScopePrivate, id: userID}
}

func DepartmentScope(departmentID uint64) Scope {
	return Scope{kind: ScopeDepartment, id: departmentID}
}

func (s Scope) Kind() ScopeKind { return s.kind }

func (s Scope) IsValid() bool { return s.kind == ScopePrivate || s.kind == ScopeDepartment }

func (s Scope) IsPrivate() bool { return s.kind == ScopePrivate }

func (s Scope) IsDepartment() bool { return s.kind == ScopeDepartment }

// UserID returns the owning user for a private scope.
func (s Scope) UserID() (uint64, bool) {
	if s.kind != ScopePrivate {
		return 0, false
	}
	return s.id, true
}

// DepartmentID returns the owning department for a department scope.
func (s Scope) DepartmentID() (uint64, bool) {
	if s.kind != ScopeDepartment {
		return 0, false
	}
	return s.id, true
}

func (s Scope) Equal(o Scope) bool { return s.kind == o.kind && s.id == o.id }

func (s Scope) String() string {
	switch s.kind {
	case ScopePrivate:
		return fmt.Sprintf("private(%d)", s.id)
	case ScopeDepartment:
		return fmt.Sprintf("department(%d)", s.id)
	default:
		return "invalid"
	}
}

// columns 把 Scope 拆成两列存储
func (s Scope) columns() (ownerUserID, departmentID *uint64) {
	id := s.id
	switch s.kind {
	case ScopePrivate:
		return &id, nil
	case ScopeDepartment:
		return nil, &id
	}
	return nil, nil
}

func scopeFromColumns(ownerUserID, departmentID *uint64) (Scope, error) {
	switch {
	case ownerUserID != nil && departmentID == nil:
		return PrivateScope(*ownerUserID), nil
	case ownerUserID == nil && departmentID != nil:
		return DepartmentScope(*departmentID), nil
	default:
		return Scope{}, ErrInvalidScope
	}
}

// Visibility 可见性标签
type Visibility string

const (
	VisibilityPrivate    Visibility = "private"
	VisibilityDepartment Visibility = "department"
	VisibilityShared     Visibility = "shared"
)
