package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
)

var (
	// ErrObjectNotFound 对象在磁盘上不存在
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrDiskNotFound 未配置该名称的磁盘
	ErrDiskNotFound = errors.New("storage: disk not configured")
	// ErrInvalidKey key 为空或试图逃出磁盘根目录
	ErrInvalidKey = errors.New("storage: invalid object key")
)

// Disk 定义了内容存储的通用操作，每个驱动实现一个命名磁盘
type Disk interface {
	Name() string
	Exists(ctx context.Context, key string) (bool, error)
	// Open 返回对象内容，不存在时返回 ErrObjectNotFound
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Size(ctx context.Context, key string) (int64, error)
	// Put 写入对象，size 未知时传 -1
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Move 在同一磁盘内移动对象
	Move(ctx context.Context, src, dst string) error
	// Delete 批量删除，不存在的 key 不视为错误
	Delete(ctx context.Context, keys ...string) error
}

// LocalPather 由可以直接给出本地文件路径的磁盘实现，打包时可以免拷贝
type LocalPather interface {
	LocalPath(key string) (string, error)
}

// Manager 按名称管理磁盘
type Manager struct {
	defaultName string
	disks       map[string]Disk
}

func NewManager(defaultName string, disks ...Disk) (*Manager, error) {
	m := &Manager{defaultName: defaultName, disks: make(map[string]Disk, len(disks))}
	for _, d := range disks {
		if _, dup := m.disks[d.Name()]; dup {
			return nil, fmt.Errorf("duplicate disk name %q", d.Name())
		}
		m.disks[d.Name()] = d
	}
	if _, ok := m.disks[defaultName]; !ok {
		return nil, fmt.Errorf("default disk %q: %w", defaultName, ErrDiskNotFound)
	}
	return m, nil
}

func (m *Manager) Disk(name string) (Disk, error) {
	d, ok := m.disks[name]
	if !ok {
		return nil, fmt.Errorf("disk %q: %w", name, ErrDiskNotFound)
	}
	return d, nil
}

func (m *Manager) Default() Disk {
	return m.disks[m.defaultName]
}

func (m *Manager) DefaultName() string {
	return m.defaultName
}

// Names 返回所有磁盘名称，按字典序
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.disks))
	for name := range m.disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
