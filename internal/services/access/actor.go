package access

import "github.com/3Eeeecho/go-docstore/internal/models"

// 角色能力名，由身份系统写入 JWT
const (
	CapFilesDownload     = "files.download"
	CapFilesUpdate       = "files.update"
	CapFilesDelete       = "files.delete"
	CapFoldersUpdate     = "folders.update"
	CapFoldersDelete     = "folders.delete"
	CapFoldersCreateDept = "folders.create_department"
)

// RoleChecker 粗粒度的角色能力检查，与具体资源无关
type RoleChecker interface {
	Can(capability string) bool
}

// RoleSet 静态能力集合
type RoleSet map[string]struct{}

func NewRoleSet(capabilities ...string) RoleSet {
	s := make(RoleSet, len(capabilities))
	for _, c := range capabilities {
		s[c] = struct{}{}
	}
	return s
}

func (s RoleSet) Can(capability string) bool {
	_, ok := s[capability]
	return ok
}

// Actor 当前操作者
type Actor struct {
	UserID       uint64
	DepartmentID *uint64
	Roles        RoleChecker
}

func (a Actor) Can(capability string) bool {
	return a.Roles != nil && a.Roles.Can(capability)
}

func (a Actor) Department() (uint64, bool) {
	if a.DepartmentID == nil {
		return 0, false
	}
	return *a.DepartmentID, true
}

func (a Actor) PrivateScope() models.Scope {
	return models.PrivateScope(a.UserID)
}

// DepartmentScope 没有部门时 ok 为 false
func (a Actor) DepartmentScope() (models.Scope, bool) {
	id, ok := a.Department()
	if !ok {
		return models.Scope{}, false
	}
	return models.DepartmentScope(id), true
}

// Owns 私有归属且属于该用户。部门条目没有所有者捷径
func (a Actor) Owns(s models.Scope) bool {
	id, ok := s.UserID()
	return ok && id == a.UserID
}

func (a Actor) inDepartment(s models.Scope) bool {
	dept, ok := s.DepartmentID()
	if !ok {
		return false
	}
	mine, ok := a.Department()
	return ok && mine == dept
}
