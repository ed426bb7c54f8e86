package models

// All 需要 AutoMigrate 的模型，顺序即建表顺序
func All() []any {
	return []any{
		&Department{},
		&User{},
		&Folder{},
		&File{},
		&FileVersion{},
		&FolderPermission{},
		&FilePermission{},
		&ShareLink{},
	}
}
