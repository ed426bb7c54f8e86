// Package testutil 测试共用的数据库和磁盘夹具
package testutil

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

func init() {
	logger.SetLogger(zap.NewNop())
}

// NewTestDB 每次返回独立的内存 SQLite。只允许一个连接，事务外的查询会等待事务结束
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:docstore_test_%d?mode=memory&cache=shared&_foreign_keys=1", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// NewDisks 返回一个本地磁盘 local 和一个不暴露本地路径的磁盘 remote，默认磁盘为 local
func NewDisks(t testing.TB) (*storage.Manager, *storage.LocalDisk, *RemoteDisk) {
	t.Helper()
	local, err := storage.NewLocalDisk("local", t.TempDir())
	require.NoError(t, err)
	backing, err := storage.NewLocalDisk("remote", t.TempDir())
	require.NoError(t, err)
	remote := &RemoteDisk{Disk: backing}

	m, err := storage.NewManager("local", local, remote)
	require.NoError(t, err)
	return m, local, remote
}

// RemoteDisk 只暴露 storage.Disk，模拟对象存储
type RemoteDisk struct {
	storage.Disk
	opens atomic.Int64
}

func (d *RemoteDisk) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	d.opens.Add(1)
	return d.Disk.Open(ctx, key)
}

func (d *RemoteDisk) Opens() int64 { return d.opens.Load() }

func SeedDepartment(t testing.TB, db *gorm.DB, name string) *models.Department {
	t.Helper()
	dept := &models.Department{Name: name}
	require.NoError(t, db.Create(dept).Error)
	return dept
}

func SeedUser(t testing.TB, db *gorm.DB, username string, departmentID *uint64) *models.User {
	t.Helper()
	user := &models.User{
		Username:         username,
		DepartmentID:     departmentID,
		EmploymentStatus: models.EmploymentActive,
		IsActive:         true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func Ptr[T any](v T) *T { return &v }
