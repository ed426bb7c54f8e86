package explorer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type transactionManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &transactionManager{db: db}
}

// WithTransaction fn 返回错误或 panic 时回滚。锁等待超时和死锁统一转换为 xerr.ErrLockTimeout
func (tm *transactionManager) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) (err error) {
	tx := tm.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return classifyDBError(tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil && !errors.Is(rbErr, gorm.ErrInvalidTransaction) {
			logger.Warn("WithTransaction: rollback failed", zap.Error(rbErr))
		}
		return classifyDBError(err)
	}

	if err := tx.Commit().Error; err != nil {
		return classifyDBError(err)
	}
	return nil
}

// classifyDBError 驱动层的锁冲突转换成可重试错误，其余原样返回
func classifyDBError(err error) error {
	if err == nil || errors.Is(err, xerr.ErrLockTimeout) || !isLockTimeout(err) {
		return err
	}
	return fmt.Errorf("%w: %w", xerr.ErrLockTimeout, err)
}

func isLockTimeout(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// 1205 lock wait timeout, 1213 deadlock
		return myErr.Number == 1205 || myErr.Number == 1213
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// lock_not_available, deadlock_detected, query_canceled (lock_timeout)
		return pgErr.Code == "55P03" || pgErr.Code == "40P01" || pgErr.Code == "57014"
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
