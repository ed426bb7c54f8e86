package explorer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/testutil"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifyDBError_SeesThroughServiceWrapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		lock bool
	}{
		{"mysql lock wait", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, true},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		{"postgres deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"postgres lock not available", &pgconn.PgError{Code: "55P03"}, true},
		{"mysql duplicate key", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, false},
		{"sqlite busy", errors.New("database is locked"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// 仓库层和服务层各包一次
			err := fmt.Errorf("%w: %w", xerr.ErrDatabaseError, fmt.Errorf("update folder 1: %w", tc.err))
			got := classifyDBError(err)

			assert.Equal(t, tc.lock, errors.Is(got, xerr.ErrLockTimeout))
			assert.True(t, errors.Is(got, xerr.ErrDatabaseError))
			status, code, _ := xerr.Lookup(got)
			if tc.lock {
				assert.Equal(t, http.StatusServiceUnavailable, status)
				assert.Equal(t, xerr.LockTimeoutCode, code)
				assert.True(t, xerr.Retryable(got))
			} else {
				assert.Equal(t, xerr.DatabaseErrorCode, code)
			}
		})
	}
}

func TestWithTransaction_ClassifiesLockErrorsFromFn(t *testing.T) {
	tm := NewTransactionManager(testutil.NewTestDB(t))

	err := tm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, &pgconn.PgError{Code: "40P01"})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, xerr.ErrLockTimeout)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "40P01", pgErr.Code)

	err = tm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return xerr.ErrNameConflict
	})
	assert.ErrorIs(t, err, xerr.ErrNameConflict)
	assert.NotErrorIs(t, err, xerr.ErrLockTimeout)
}
